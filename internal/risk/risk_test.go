package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/greenlight/internal/order"
	"github.com/linnemanlabs/greenlight/internal/order/memstore"
	"github.com/linnemanlabs/greenlight/internal/validate"
)

// stubSummarizer returns a canned summary or error.
type stubSummarizer struct {
	summary *Summary
	err     error
	block   bool

	called bool
}

func (s *stubSummarizer) Summarize(ctx context.Context, _ *SummaryRequest) (*Summary, error) {
	s.called = true
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.summary, nil
}

func testOrder() *order.Order {
	return &order.Order{
		ID:          "o-1",
		PrincipalID: "p-1",
		AccessLevel: order.AccessPreferred,
		Budget:      60_000,
		Currency:    "USD",
		FlightStart: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		FlightEnd:   time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
	}
}

func passedValidation() *validate.Result {
	return &validate.Result{OrderID: "o-1", AllPassed: true}
}

func seedHistory(prior int) *memstore.Store {
	s := memstore.New()
	s.PutPrincipal(&order.Principal{ID: "p-1", Name: "Acme", AccessLevel: order.AccessPreferred, Active: true, PriorOrders: prior})
	return s
}

func TestAssess_SummarizerHealthy(t *testing.T) {
	t.Parallel()

	sum := &stubSummarizer{summary: &Summary{
		Summary:        "Routine renewal for an established advertiser.",
		RiskLevel:      LevelLow,
		Recommendation: RecommendApprove,
		Confidence:     ConfidenceHigh,
	}}
	a := New(sum, seedHistory(10), time.Second, nil)

	got := a.Assess(context.Background(), testOrder(), passedValidation())
	if got.Degraded {
		t.Error("Degraded = true with a healthy summarizer")
	}
	if got.Recommendation != RecommendApprove || got.Confidence != ConfidenceHigh {
		t.Errorf("got recommendation=%s confidence=%s, want approve/high", got.Recommendation, got.Confidence)
	}
	if got.Summary == "" {
		t.Error("empty summary from healthy summarizer path")
	}
}

func TestAssess_SummarizerError_FailsOpen(t *testing.T) {
	t.Parallel()

	sum := &stubSummarizer{err: errors.New("upstream 529")}
	a := New(sum, seedHistory(10), time.Second, nil)

	got := a.Assess(context.Background(), testOrder(), passedValidation())
	if !got.Degraded {
		t.Error("Degraded = false after summarizer failure")
	}
	if got.Confidence != ConfidenceLow {
		t.Errorf("confidence = %s on degraded path, want low", got.Confidence)
	}
	if got.Recommendation == "" || got.RiskLevel == "" {
		t.Error("degraded assessment is incomplete")
	}
}

func TestAssess_SummarizerTimeout_FailsOpen(t *testing.T) {
	t.Parallel()

	sum := &stubSummarizer{block: true}
	a := New(sum, seedHistory(10), 20*time.Millisecond, nil)

	start := time.Now()
	got := a.Assess(context.Background(), testOrder(), passedValidation())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Assess took %v, timeout did not bound the summarizer", elapsed)
	}
	if !got.Degraded || got.Confidence != ConfidenceLow {
		t.Errorf("got degraded=%v confidence=%s, want degraded low-confidence assessment", got.Degraded, got.Confidence)
	}
}

func TestAssess_NilSummarizer_LocalOnly(t *testing.T) {
	t.Parallel()

	a := New(nil, seedHistory(10), time.Second, nil)

	got := a.Assess(context.Background(), testOrder(), passedValidation())
	if !got.Degraded {
		t.Error("Degraded = false without a summarizer")
	}
	if got.Confidence != ConfidenceLow {
		t.Errorf("confidence = %s, want low", got.Confidence)
	}
}

func TestAssess_HighBudgetShortFlight(t *testing.T) {
	t.Parallel()

	// 750k over a 3 day flight is 250k/day, far above the 25k/day rate
	o := testOrder()
	o.AccessLevel = order.AccessEnterprise
	o.Budget = 750_000
	o.FlightEnd = o.FlightStart.AddDate(0, 0, 3)

	a := New(nil, seedHistory(10), time.Second, nil)
	got := a.Assess(context.Background(), o, passedValidation())

	if !contains(got.Flags, FlagHighBudgetShortFlight) {
		t.Errorf("flags = %v, want %s", got.Flags, FlagHighBudgetShortFlight)
	}
	if got.Recommendation != RecommendReview {
		t.Errorf("recommendation = %s, want review", got.Recommendation)
	}
}

func TestAssess_NoOrderHistory(t *testing.T) {
	t.Parallel()

	a := New(nil, seedHistory(0), time.Second, nil)
	got := a.Assess(context.Background(), testOrder(), passedValidation())

	if !contains(got.Flags, FlagNoOrderHistory) {
		t.Errorf("flags = %v, want %s", got.Flags, FlagNoOrderHistory)
	}
}

func TestAssess_NearBudgetCeiling(t *testing.T) {
	t.Parallel()

	o := testOrder()
	o.Budget = 460_000 // 92% of the preferred 500k ceiling

	a := New(nil, seedHistory(10), time.Second, nil)
	got := a.Assess(context.Background(), o, passedValidation())

	if !contains(got.Flags, FlagNearBudgetCeiling) {
		t.Errorf("flags = %v, want %s", got.Flags, FlagNearBudgetCeiling)
	}
}

func TestAssess_ValidationFailed_RecommendsReject(t *testing.T) {
	t.Parallel()

	vr := &validate.Result{
		OrderID:   "o-1",
		AllPassed: false,
		Checks:    []validate.CheckResult{{Name: "products_exist", Passed: false}},
	}

	a := New(nil, seedHistory(10), time.Second, nil)
	got := a.Assess(context.Background(), testOrder(), vr)

	if got.Recommendation != RecommendReject || got.RiskLevel != LevelHigh {
		t.Errorf("got recommendation=%s level=%s, want reject/high", got.Recommendation, got.RiskLevel)
	}
}

func TestAssess_MultipleFlags_HighRisk(t *testing.T) {
	t.Parallel()

	// near ceiling and front-loaded at once
	o := testOrder()
	o.Budget = 490_000
	o.FlightEnd = o.FlightStart.AddDate(0, 0, 2)

	a := New(nil, seedHistory(10), time.Second, nil)
	got := a.Assess(context.Background(), o, passedValidation())

	if len(got.Flags) < 2 {
		t.Fatalf("flags = %v, want at least 2", got.Flags)
	}
	if got.RiskLevel != LevelHigh || got.Recommendation != RecommendReview {
		t.Errorf("got level=%s recommendation=%s, want high/review", got.RiskLevel, got.Recommendation)
	}
}

func TestAssess_MergesSummarizerFlags(t *testing.T) {
	t.Parallel()

	o := testOrder()
	o.Budget = 460_000 // local flag: near_budget_ceiling

	sum := &stubSummarizer{summary: &Summary{
		Summary:        "Budget is close to the contract ceiling.",
		RiskLevel:      LevelMedium,
		Flags:          []string{FlagNearBudgetCeiling, "vertical_mismatch"},
		Recommendation: RecommendReview,
		Confidence:     ConfidenceMedium,
	}}
	a := New(sum, seedHistory(10), time.Second, nil)

	got := a.Assess(context.Background(), o, passedValidation())
	if !contains(got.Flags, FlagNearBudgetCeiling) || !contains(got.Flags, "vertical_mismatch") {
		t.Fatalf("flags = %v, want merged local and remote flags", got.Flags)
	}
	if count(got.Flags, FlagNearBudgetCeiling) != 1 {
		t.Errorf("flags = %v, duplicate flag after merge", got.Flags)
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func count(ss []string, want string) int {
	n := 0
	for _, s := range ss {
		if s == want {
			n++
		}
	}
	return n
}
