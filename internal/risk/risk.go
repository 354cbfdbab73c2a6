// Package risk produces a structured recommendation for a validated
// order. Deterministic local flags are computed first; an external
// summarizer may then enrich them with a natural-language summary.
// The summarizer is a soft dependency: it runs under a hard timeout
// and any failure degrades to the local-only assessment instead of
// blocking the workflow.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/greenlight/internal/order"
	"github.com/linnemanlabs/greenlight/internal/validate"
)

// Level classifies overall order risk.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Recommendation is the suggested action for the human approver.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendReject  Recommendation = "reject"
)

// Confidence expresses how much weight the recommendation carries.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Deterministic flag names.
const (
	FlagHighBudgetShortFlight = "high_budget_short_flight"
	FlagNoOrderHistory        = "no_order_history"
	FlagNearBudgetCeiling     = "near_budget_ceiling"
)

// Assessment is the complete risk outcome for one order.
type Assessment struct {
	OrderID        string         `json:"order_id"`
	RiskLevel      Level          `json:"risk_level"`
	Flags          []string       `json:"flags"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     Confidence     `json:"confidence"`
	Summary        string         `json:"summary"`
	Degraded       bool           `json:"degraded,omitempty"`
}

// SummaryRequest carries everything the external summarizer needs.
type SummaryRequest struct {
	Order      *order.Order
	Validation *validate.Result
	LocalFlags []string
}

// Summary is the summarizer's structured reply.
type Summary struct {
	Summary        string         `json:"summary"`
	RiskLevel      Level          `json:"risk_level"`
	Flags          []string       `json:"flags"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     Confidence     `json:"confidence"`
}

// Summarizer is the external AI collaborator. It may fail or time out.
type Summarizer interface {
	Summarize(ctx context.Context, req *SummaryRequest) (*Summary, error)
}

// HistoryReader reports how many prior orders a principal has placed.
type HistoryReader interface {
	GetPrincipal(ctx context.Context, id string) (*order.Principal, bool, error)
}

// highDailySpend is the per-day budget rate above which a flight is
// flagged as unusually front-loaded.
const highDailySpend = 25_000.0

// Assessor combines deterministic flags with the optional summarizer.
type Assessor struct {
	summarizer Summarizer
	history    HistoryReader
	timeout    time.Duration
	logger     log.Logger
}

// New creates an Assessor. summarizer may be nil, in which case every
// assessment takes the local-only path.
func New(summarizer Summarizer, history HistoryReader, timeout time.Duration, logger log.Logger) *Assessor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Assessor{
		summarizer: summarizer,
		history:    history,
		timeout:    timeout,
		logger:     logger,
	}
}

// Assess never returns an error: the workflow must always receive a
// complete assessment regardless of summarizer health.
func (a *Assessor) Assess(ctx context.Context, o *order.Order, vr *validate.Result) *Assessment {
	flags := a.localFlags(ctx, o)
	local := localAssessment(o, vr, flags)

	if a.summarizer == nil {
		local.Degraded = true
		return local
	}

	sctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sum, err := a.summarizer.Summarize(sctx, &SummaryRequest{
		Order:      o,
		Validation: vr,
		LocalFlags: flags,
	})
	if err != nil {
		a.logger.Warn(ctx, "summarizer unavailable, using local assessment",
			"order_id", o.ID, "error", err)
		local.Degraded = true
		return local
	}

	return &Assessment{
		OrderID:        o.ID,
		RiskLevel:      sum.RiskLevel,
		Flags:          mergeFlags(flags, sum.Flags),
		Recommendation: sum.Recommendation,
		Confidence:     sum.Confidence,
		Summary:        sum.Summary,
	}
}

// localFlags computes the deterministic risk flags. They depend only on
// the order snapshot and the order store, never on an external service.
func (a *Assessor) localFlags(ctx context.Context, o *order.Order) []string {
	var flags []string

	if days := o.FlightDays(); days > 0 && o.Budget/float64(days) > highDailySpend {
		flags = append(flags, FlagHighBudgetShortFlight)
	}

	ceiling := order.BudgetCeiling(o.AccessLevel)
	if o.Budget >= ceiling*0.9 {
		flags = append(flags, FlagNearBudgetCeiling)
	}

	if a.history != nil {
		p, ok, err := a.history.GetPrincipal(ctx, o.PrincipalID)
		if err != nil {
			a.logger.Warn(ctx, "principal history unavailable", "order_id", o.ID, "error", err)
		} else if ok && p.PriorOrders == 0 {
			flags = append(flags, FlagNoOrderHistory)
		}
	}

	return flags
}

// localAssessment derives a recommendation from deterministic inputs
// only. Confidence is always low: without the summarizer there is no
// contextual judgement behind it.
func localAssessment(o *order.Order, vr *validate.Result, flags []string) *Assessment {
	rec := RecommendApprove
	level := LevelLow

	switch {
	case vr != nil && !vr.AllPassed:
		rec = RecommendReject
		level = LevelHigh
	case len(flags) >= 2:
		rec = RecommendReview
		level = LevelHigh
	case len(flags) == 1:
		rec = RecommendReview
		level = LevelMedium
	}

	summary := fmt.Sprintf("Order %s: %.2f %s over %d day flight.", o.ID, o.Budget, o.Currency, o.FlightDays())
	if vr != nil && !vr.AllPassed {
		summary += fmt.Sprintf(" Validation failed: %v.", vr.Failed())
	}

	return &Assessment{
		OrderID:        o.ID,
		RiskLevel:      level,
		Flags:          flags,
		Recommendation: rec,
		Confidence:     ConfidenceLow,
		Summary:        summary,
	}
}

func mergeFlags(local, remote []string) []string {
	seen := make(map[string]bool, len(local)+len(remote))
	out := make([]string, 0, len(local)+len(remote))
	for _, f := range append(append([]string{}, local...), remote...) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
