// Package order defines the advertising order domain model and the
// store interfaces the approval workflow reads reference data through.
package order

import "time"

// AccessLevel is the principal's contractual tier. It determines the
// budget ceiling an order may carry.
type AccessLevel string

const (
	AccessEnterprise AccessLevel = "enterprise"
	AccessPreferred  AccessLevel = "preferred"
	AccessStandard   AccessLevel = "standard"
)

// BudgetCeiling returns the maximum order budget for an access level.
// Unknown levels get the standard ceiling.
func BudgetCeiling(level AccessLevel) float64 {
	switch level {
	case AccessEnterprise:
		return 1_000_000
	case AccessPreferred:
		return 500_000
	default:
		return 100_000
	}
}

// Order is a snapshot of an advertising order as durably created
// upstream. The workflow never mutates it; Status is a denormalized
// projection updated through StatusWriter.
type Order struct {
	ID           string      `json:"id"`
	PrincipalID  string      `json:"principal_id"`
	AccessLevel  AccessLevel `json:"access_level"`
	CampaignName string      `json:"campaign_name"`
	Budget       float64     `json:"budget"`
	Currency     string      `json:"currency"`
	FlightStart  time.Time   `json:"flight_start"`
	FlightEnd    time.Time   `json:"flight_end"`
	Vertical     string      `json:"vertical"`
	Urgent       bool        `json:"urgent"`
	ProductIDs   []string    `json:"product_ids"`
	FormatIDs    []string    `json:"format_ids,omitempty"`
	Status       string      `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

// FlightDays is the flight duration in whole days, minimum zero.
func (o *Order) FlightDays() int {
	d := o.FlightEnd.Sub(o.FlightStart)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// Principal is the advertiser submitting orders.
type Principal struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	AccessLevel AccessLevel `json:"access_level"`
	Active      bool        `json:"active"`
	PriorOrders int         `json:"prior_orders"`
}

// Product is a sellable inventory product referenced by an order.
type Product struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Decision is a human approver's verdict on an order.
type Decision string

const (
	DecisionApproved         Decision = "approved"
	DecisionRejected         Decision = "rejected"
	DecisionChangesRequested Decision = "changes_requested"
)

// Valid reports whether d is one of the known decision values.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionChangesRequested:
		return true
	}
	return false
}

// DecisionEvent is the external callback payload delivered when an
// approver acts on a pending order. Delivery is at-least-once and may
// be out of order.
type DecisionEvent struct {
	OrderID   string    `json:"order_id"`
	Decision  Decision  `json:"decision"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
