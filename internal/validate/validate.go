// Package validate runs the business-rule checks an order must pass
// before it can be routed for approval. Checks are independent and
// read-only: two runs against the same snapshot produce identical
// results. A failed check is an expected business outcome and lives in
// the Result; a non-nil error means the reference store could not be
// reached and the run should be retried.
package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/greenlight/internal/order"
)

// CheckResult is the outcome of a single validation check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Result is the complete validation outcome for one order.
type Result struct {
	OrderID     string        `json:"order_id"`
	AllPassed   bool          `json:"all_passed"`
	Checks      []CheckResult `json:"checks"`
	ValidatedAt time.Time     `json:"validated_at"`
}

// Failed returns the names of the checks that did not pass.
func (r *Result) Failed() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Validator runs the fixed check list against an order snapshot and
// the reference collections behind an order.Reader.
type Validator struct {
	refs order.Reader
}

// New creates a Validator over the given reference reader.
func New(refs order.Reader) *Validator {
	return &Validator{refs: refs}
}

// Run executes every check in order. It never mutates state.
func (v *Validator) Run(ctx context.Context, o *order.Order) (*Result, error) {
	r := &Result{OrderID: o.ID, ValidatedAt: time.Now().UTC()}

	exists, err := v.checkOrderExists(ctx, o)
	if err != nil {
		return nil, err
	}
	r.Checks = append(r.Checks, exists)

	products, err := v.checkProductsExist(ctx, o)
	if err != nil {
		return nil, err
	}
	r.Checks = append(r.Checks, products)

	formats, err := v.checkFormatsValid(ctx, o)
	if err != nil {
		return nil, err
	}
	r.Checks = append(r.Checks, formats)

	principal, budget, err := v.checkPrincipal(ctx, o)
	if err != nil {
		return nil, err
	}
	r.Checks = append(r.Checks, principal, budget)

	r.Checks = append(r.Checks, checkFlightDates(o))

	r.AllPassed = true
	for _, c := range r.Checks {
		if !c.Passed {
			r.AllPassed = false
			break
		}
	}
	return r, nil
}

func (v *Validator) checkOrderExists(ctx context.Context, o *order.Order) (CheckResult, error) {
	stored, ok, err := v.refs.GetOrder(ctx, o.ID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("order lookup: %w", err)
	}
	if !ok {
		return CheckResult{Name: "order_exists", Detail: fmt.Sprintf("order %q not found", o.ID)}, nil
	}
	return CheckResult{
		Name:   "order_exists",
		Passed: true,
		Detail: fmt.Sprintf("order %q found with budget %.2f %s", stored.ID, stored.Budget, stored.Currency),
	}, nil
}

func (v *Validator) checkProductsExist(ctx context.Context, o *order.Order) (CheckResult, error) {
	if len(o.ProductIDs) == 0 {
		return CheckResult{Name: "products_exist", Detail: "order references no products"}, nil
	}

	products, err := v.refs.GetProducts(ctx, o.ProductIDs)
	if err != nil {
		return CheckResult{}, fmt.Errorf("product lookup: %w", err)
	}

	active := make(map[string]bool, len(products))
	for _, p := range products {
		if p.Active {
			active[p.ID] = true
		}
	}

	var invalid []string
	for _, id := range o.ProductIDs {
		if !active[id] {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return CheckResult{
			Name:   "products_exist",
			Detail: fmt.Sprintf("unknown or inactive products: %v", invalid),
		}, nil
	}
	return CheckResult{
		Name:   "products_exist",
		Passed: true,
		Detail: fmt.Sprintf("all %d products validated", len(o.ProductIDs)),
	}, nil
}

func (v *Validator) checkFormatsValid(ctx context.Context, o *order.Order) (CheckResult, error) {
	if len(o.FormatIDs) == 0 {
		// formats are optional on an order
		return CheckResult{Name: "formats_valid", Passed: true, Detail: "no creative formats to validate"}, nil
	}

	valid, err := v.refs.ValidFormatIDs(ctx)
	if err != nil {
		return CheckResult{}, fmt.Errorf("format catalog lookup: %w", err)
	}

	var invalid []string
	for _, id := range o.FormatIDs {
		if !valid[id] {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return CheckResult{
			Name:   "formats_valid",
			Detail: fmt.Sprintf("invalid formats: %v", invalid),
		}, nil
	}
	return CheckResult{
		Name:   "formats_valid",
		Passed: true,
		Detail: fmt.Sprintf("all %d formats validated", len(o.FormatIDs)),
	}, nil
}

// checkPrincipal covers principal_authorized and budget_limits from
// one lookup, mirroring how the reference data is actually joined.
func (v *Validator) checkPrincipal(ctx context.Context, o *order.Order) (CheckResult, CheckResult, error) {
	p, ok, err := v.refs.GetPrincipal(ctx, o.PrincipalID)
	if err != nil {
		return CheckResult{}, CheckResult{}, fmt.Errorf("principal lookup: %w", err)
	}

	budget := CheckResult{Name: "budget_limits"}
	if !ok {
		auth := CheckResult{Name: "principal_authorized", Detail: fmt.Sprintf("principal %q not found", o.PrincipalID)}
		budget.Detail = "could not determine budget ceiling without a principal"
		return auth, budget, nil
	}
	if !p.Active {
		auth := CheckResult{Name: "principal_authorized", Detail: fmt.Sprintf("principal %q is not active", p.Name)}
		budget.Detail = "budget not evaluated for inactive principal"
		return auth, budget, nil
	}

	auth := CheckResult{
		Name:   "principal_authorized",
		Passed: true,
		Detail: fmt.Sprintf("principal %q authorized (access: %s)", p.Name, p.AccessLevel),
	}

	ceiling := order.BudgetCeiling(p.AccessLevel)
	if o.Budget > ceiling {
		budget.Detail = fmt.Sprintf("budget %.2f exceeds %s ceiling %.2f", o.Budget, p.AccessLevel, ceiling)
		return auth, budget, nil
	}
	budget.Passed = true
	budget.Detail = fmt.Sprintf("budget %.2f within %s ceiling %.2f", o.Budget, p.AccessLevel, ceiling)
	return auth, budget, nil
}

func checkFlightDates(o *order.Order) CheckResult {
	if o.FlightStart.IsZero() || o.FlightEnd.IsZero() {
		return CheckResult{Name: "flight_dates", Detail: "flight dates are not set"}
	}
	if !o.FlightStart.Before(o.FlightEnd) {
		return CheckResult{
			Name:   "flight_dates",
			Detail: fmt.Sprintf("start %s must be before end %s", o.FlightStart.Format("2006-01-02"), o.FlightEnd.Format("2006-01-02")),
		}
	}
	return CheckResult{
		Name:   "flight_dates",
		Passed: true,
		Detail: fmt.Sprintf("flight %s to %s", o.FlightStart.Format("2006-01-02"), o.FlightEnd.Format("2006-01-02")),
	}
}
