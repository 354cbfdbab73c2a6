package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/greenlight/internal/audit"
	auditmem "github.com/linnemanlabs/greenlight/internal/audit/memlog"
	"github.com/linnemanlabs/greenlight/internal/directory"
	dirmem "github.com/linnemanlabs/greenlight/internal/directory/memstore"
	"github.com/linnemanlabs/greenlight/internal/notify"
	"github.com/linnemanlabs/greenlight/internal/order"
	ordermem "github.com/linnemanlabs/greenlight/internal/order/memstore"
	"github.com/linnemanlabs/greenlight/internal/risk"
	"github.com/linnemanlabs/greenlight/internal/routing"
	"github.com/linnemanlabs/greenlight/internal/validate"
)

// fakeDispatcher records deliveries and can fail per destination.
type fakeDispatcher struct {
	mu       sync.Mutex
	failDest map[string]bool
	failAll  bool
	sent     []sentMessage
}

type sentMessage struct {
	destination string
	msg         notify.Message
}

func (d *fakeDispatcher) Dispatch(_ context.Context, destination string, msg *notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll || d.failDest[destination] {
		return errors.New("webhook 502")
	}
	d.sent = append(d.sent, sentMessage{destination: destination, msg: *msg})
	return nil
}

func (d *fakeDispatcher) deliveries() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sentMessage, len(d.sent))
	copy(out, d.sent)
	return out
}

type fakeEscalator struct {
	mu    sync.Mutex
	calls []string
}

func (e *fakeEscalator) Escalate(_ context.Context, subject, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, subject)
}

func (e *fakeEscalator) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// testHarness bundles the engine with its fakes and seeded stores.
type testHarness struct {
	engine     *Engine
	orders     *ordermem.Store
	trail      *auditmem.Log
	dispatcher *fakeDispatcher
	escalator  *fakeEscalator
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	orders := ordermem.New()
	orders.PutPrincipal(&order.Principal{
		ID:          "p-1",
		Name:        "Acme Media",
		AccessLevel: order.AccessPreferred,
		Active:      true,
		PriorOrders: 8,
	})
	orders.PutProduct(&order.Product{ID: "prod-display", Name: "Display", Active: true})

	dirStore := dirmem.New()
	dirStore.AddChannelConfig(directory.ChannelConfig{
		ChannelType:   routing.ChannelElevatedApproval,
		Vertical:      "retail",
		DestinationID: "ch-retail-elevated",
	})
	dirStore.Assign("p-1", "approver-alice")

	channels, err := directory.NewRegistry(context.Background(), dirStore, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	trail := auditmem.New()
	dispatcher := &fakeDispatcher{failDest: make(map[string]bool)}
	escalator := &fakeEscalator{}

	engine := NewEngine(Config{
		Store:     orders,
		Validator: validate.New(orders),
		Assessor:  risk.New(nil, orders, time.Second, nil),
		Policy:    routing.DefaultPolicy(100_000),
		RouteCtx: &routing.Context{
			Channels:              channels,
			Approvers:             directory.NewResolver(dirStore),
			DefaultDestination:    "ch-default",
			EscalationDestination: "ch-urgent",
		},
		Dispatcher:   dispatcher,
		Recorder:     audit.NewRecorder(trail, escalator, nil),
		Escalator:    escalator,
		RetryElapsed: 100 * time.Millisecond,
		DispatchMax:  2,
	})

	return &testHarness{
		engine:     engine,
		orders:     orders,
		trail:      trail,
		dispatcher: dispatcher,
		escalator:  escalator,
	}
}

func (h *testHarness) seedOrder(t *testing.T, id string) *order.Order {
	t.Helper()

	o := &order.Order{
		ID:          id,
		PrincipalID: "p-1",
		AccessLevel: order.AccessPreferred,
		Budget:      50_000,
		Currency:    "USD",
		FlightStart: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		FlightEnd:   time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
		Vertical:    "retail",
		ProductIDs:  []string{"prod-display"},
		Status:      string(StateCreated),
	}
	h.orders.PutOrder(o)
	return o
}

func (h *testHarness) operations(t *testing.T, orderID string) []string {
	t.Helper()

	entries, err := h.trail.ListByOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("ListByOrder: %v", err)
	}
	ops := make([]string, 0, len(entries))
	for _, e := range entries {
		ops = append(ops, e.Operation)
	}
	return ops
}

func (h *testHarness) status(t *testing.T, orderID string) string {
	t.Helper()

	o, ok, err := h.orders.GetOrder(context.Background(), orderID)
	if err != nil || !ok {
		t.Fatalf("GetOrder(%s) = (_, %v, %v)", orderID, ok, err)
	}
	return o.Status
}

func opsEqual(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// Full lifecycle: submit a clean order, then approve it. Exactly five
// audit entries end to end.
func TestSubmitAndApprove_FullLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedOrder(t, "o-1")

	result, err := h.engine.Submit(context.Background(), "o-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.FinalState != StateAwaitingDecision {
		t.Fatalf("FinalState = %s, want awaiting_decision", result.FinalState)
	}
	if result.Validation == nil || !result.Validation.AllPassed {
		t.Fatal("missing or failed validation result on the happy path")
	}
	if result.Assessment == nil || result.Routing == nil {
		t.Fatal("result is missing assessment or routing")
	}
	if result.Routing.Destination != "approver-alice" {
		t.Errorf("destination = %s, want approver-alice", result.Routing.Destination)
	}

	sent := h.dispatcher.deliveries()
	if len(sent) != 1 || sent[0].destination != "approver-alice" {
		t.Fatalf("deliveries = %+v, want one to approver-alice", sent)
	}
	if sent[0].msg.OrderID != "o-1" {
		t.Errorf("dispatched order id = %s, want o-1", sent[0].msg.OrderID)
	}

	if got := h.status(t, "o-1"); got != string(StateAwaitingDecision) {
		t.Errorf("projected status = %s, want awaiting_decision", got)
	}

	dres, err := h.engine.ApplyDecision(context.Background(), &order.DecisionEvent{
		OrderID:  "o-1",
		Decision: order.DecisionApproved,
		Actor:    "alice",
	})
	if err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}
	if dres.FinalState != StateApproved || dres.Outcome != "applied" {
		t.Errorf("got state=%s outcome=%s, want approved/applied", dres.FinalState, dres.Outcome)
	}

	want := []string{
		audit.OpValidationRun,
		audit.OpRiskAssessed,
		audit.OpRoutingDecided,
		audit.OpNotificationDispatched,
		audit.OpDecisionApplied,
	}
	if got := h.operations(t, "o-1"); !opsEqual(got, want) {
		t.Errorf("audit trail = %v, want %v", got, want)
	}
}

// An order with an unknown product stops at validation: two audit
// entries and no notification.
func TestSubmit_ValidationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	o := h.seedOrder(t, "o-2")
	o.ProductIDs = []string{"prod-display", "prod-nonexistent"}
	h.orders.PutOrder(o)

	result, err := h.engine.Submit(context.Background(), "o-2")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.FinalState != StateValidationFailed {
		t.Fatalf("FinalState = %s, want validation_failed", result.FinalState)
	}
	if len(h.dispatcher.deliveries()) != 0 {
		t.Error("notification dispatched for a validation failure")
	}

	want := []string{audit.OpValidationRun, audit.OpValidationFailed}
	if got := h.operations(t, "o-2"); !opsEqual(got, want) {
		t.Errorf("audit trail = %v, want %v", got, want)
	}
	if got := h.status(t, "o-2"); got != string(StateValidationFailed) {
		t.Errorf("projected status = %s, want validation_failed", got)
	}
}

func TestSubmit_UnknownOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.engine.Submit(context.Background(), "o-ghost")
	if !IsKind(err, KindProtocolViolation) {
		t.Fatalf("Submit(unknown) = %v, want protocol violation", err)
	}
}

func TestSubmit_AlreadySubmitted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	o := h.seedOrder(t, "o-3")
	o.Status = string(StateAwaitingDecision)
	h.orders.PutOrder(o)

	_, err := h.engine.Submit(context.Background(), "o-3")
	if !IsKind(err, KindProtocolViolation) {
		t.Fatalf("Submit(awaiting_decision) = %v, want protocol violation", err)
	}
}

func TestSubmit_UrgentRoutesToEscalation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	o := h.seedOrder(t, "o-4")
	o.Urgent = true
	o.Budget = 300_000 // high-value too; urgent must win
	h.orders.PutOrder(o)

	result, err := h.engine.Submit(context.Background(), "o-4")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Routing.Destination != "ch-urgent" || result.Routing.Rule != "urgent" {
		t.Errorf("routing = %+v, want ch-urgent via urgent", result.Routing)
	}
}

func TestSubmit_HighValueRoutesToElevated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	o := h.seedOrder(t, "o-5")
	o.Budget = 100_000 // inclusive boundary
	h.orders.PutOrder(o)

	result, err := h.engine.Submit(context.Background(), "o-5")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Routing.Destination != "ch-retail-elevated" || result.Routing.Rule != "high_value" {
		t.Errorf("routing = %+v, want ch-retail-elevated via high_value", result.Routing)
	}
}

// Without a summarizer the assessment is degraded but the workflow
// still completes.
func TestSubmit_DegradedAssessment(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedOrder(t, "o-6")

	result, err := h.engine.Submit(context.Background(), "o-6")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !result.Assessment.Degraded {
		t.Error("Degraded = false with no summarizer")
	}
	if result.Assessment.Confidence != risk.ConfidenceLow {
		t.Errorf("confidence = %s, want low", result.Assessment.Confidence)
	}
	if result.FinalState != StateAwaitingDecision {
		t.Errorf("FinalState = %s, want awaiting_decision", result.FinalState)
	}
}

// Dispatch to the resolved destination is exhausted; the request falls
// back to the default destination and the workflow still completes.
func TestSubmit_DispatchFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedOrder(t, "o-7")
	h.dispatcher.failDest["approver-alice"] = true

	var fallbacks int
	h.engine.hooks.OnDispatchFallback = func() { fallbacks++ }

	result, err := h.engine.Submit(context.Background(), "o-7")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.FinalState != StateAwaitingDecision {
		t.Fatalf("FinalState = %s, want awaiting_decision", result.FinalState)
	}

	sent := h.dispatcher.deliveries()
	if len(sent) != 1 || sent[0].destination != "ch-default" {
		t.Fatalf("deliveries = %+v, want one to ch-default", sent)
	}
	if fallbacks != 1 {
		t.Errorf("fallback hook fired %d times, want 1", fallbacks)
	}
}

// Every destination fails: the workflow halts in Failed, audits the
// fault, and escalates.
func TestSubmit_DispatchExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedOrder(t, "o-8")
	h.dispatcher.failAll = true

	result, err := h.engine.Submit(context.Background(), "o-8")
	if !IsKind(err, KindTransientFault) {
		t.Fatalf("Submit = %v, want transient fault", err)
	}
	if result.FinalState != StateFailed {
		t.Errorf("FinalState = %s, want failed", result.FinalState)
	}
	if h.escalator.count() == 0 {
		t.Error("no escalation for an undeliverable approval request")
	}

	ops := h.operations(t, "o-8")
	if !containsOp(ops, audit.OpWorkflowFailed) {
		t.Errorf("audit trail = %v, missing workflow_failed", ops)
	}
	if got := h.status(t, "o-8"); got != string(StateFailed) {
		t.Errorf("projected status = %s, want failed", got)
	}
}

// Replay of the applied decision is a no-op with its own audit trace.
func TestApplyDecision_DuplicateReplay(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedOrder(t, "o-9")

	if _, err := h.engine.Submit(context.Background(), "o-9"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ev := &order.DecisionEvent{OrderID: "o-9", Decision: order.DecisionApproved, Actor: "alice"}
	if _, err := h.engine.ApplyDecision(context.Background(), ev); err != nil {
		t.Fatalf("first ApplyDecision: %v", err)
	}

	replay, err := h.engine.ApplyDecision(context.Background(), ev)
	if err != nil {
		t.Fatalf("replayed ApplyDecision: %v", err)
	}
	if replay.Outcome != "duplicate" || replay.FinalState != StateApproved {
		t.Errorf("replay = state %s outcome %s, want approved/duplicate", replay.FinalState, replay.Outcome)
	}

	ops := h.operations(t, "o-9")
	if countOp(ops, audit.OpDecisionApplied) != 1 {
		t.Errorf("audit trail = %v, want exactly one decision_applied", ops)
	}
	if countOp(ops, audit.OpDecisionDuplicate) != 1 {
		t.Errorf("audit trail = %v, want exactly one decision_duplicate", ops)
	}
}

// A conflicting decision against a settled order is stale, not a
// duplicate.
func TestApplyDecision_StaleOnSettledOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	o := h.seedOrder(t, "o-10")
	o.Status = string(StateRejected)
	h.orders.PutOrder(o)

	_, err := h.engine.ApplyDecision(context.Background(), &order.DecisionEvent{
		OrderID:  "o-10",
		Decision: order.DecisionApproved,
		Actor:    "alice",
	})
	if !IsKind(err, KindProtocolViolation) {
		t.Fatalf("ApplyDecision = %v, want protocol violation", err)
	}

	ops := h.operations(t, "o-10")
	if !opsEqual(ops, []string{audit.OpStaleDecision}) {
		t.Errorf("audit trail = %v, want [stale_decision]", ops)
	}
	if got := h.status(t, "o-10"); got != string(StateRejected) {
		t.Errorf("status = %s after stale decision, want rejected unchanged", got)
	}
}

func TestApplyDecision_BeforeAwaitingDecision(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedOrder(t, "o-11") // status created

	_, err := h.engine.ApplyDecision(context.Background(), &order.DecisionEvent{
		OrderID:  "o-11",
		Decision: order.DecisionApproved,
		Actor:    "alice",
	})
	if !IsKind(err, KindProtocolViolation) {
		t.Fatalf("ApplyDecision = %v, want protocol violation", err)
	}
	if !containsOp(h.operations(t, "o-11"), audit.OpStaleDecision) {
		t.Error("stale decision not audited")
	}
}

func TestApplyDecision_UnknownOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.engine.ApplyDecision(context.Background(), &order.DecisionEvent{
		OrderID:  "o-ghost",
		Decision: order.DecisionApproved,
		Actor:    "alice",
	})
	if !IsKind(err, KindProtocolViolation) {
		t.Fatalf("ApplyDecision(unknown) = %v, want protocol violation", err)
	}
	if !containsOp(h.operations(t, "o-ghost"), audit.OpStaleDecision) {
		t.Error("decision against unknown order not audited")
	}
}

func TestApplyDecision_MalformedEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	tests := []*order.DecisionEvent{
		{OrderID: "", Decision: order.DecisionApproved},
		{OrderID: "o-1", Decision: "maybe"},
		{OrderID: "o-1", Decision: ""},
	}
	for _, ev := range tests {
		if _, err := h.engine.ApplyDecision(context.Background(), ev); !IsKind(err, KindProtocolViolation) {
			t.Errorf("ApplyDecision(%+v) = %v, want protocol violation", ev, err)
		}
	}
}

func TestApplyDecision_EachTerminalState(t *testing.T) {
	t.Parallel()

	decisions := []order.Decision{
		order.DecisionApproved,
		order.DecisionRejected,
		order.DecisionChangesRequested,
	}

	for _, d := range decisions {
		t.Run(string(d), func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.seedOrder(t, "o-12")
			if _, err := h.engine.Submit(context.Background(), "o-12"); err != nil {
				t.Fatalf("Submit: %v", err)
			}

			res, err := h.engine.ApplyDecision(context.Background(), &order.DecisionEvent{
				OrderID:  "o-12",
				Decision: d,
				Actor:    "alice",
			})
			if err != nil {
				t.Fatalf("ApplyDecision(%s): %v", d, err)
			}
			want := stateForDecision(d)
			if res.FinalState != want {
				t.Errorf("FinalState = %s, want %s", res.FinalState, want)
			}
			if got := h.status(t, "o-12"); got != string(want) {
				t.Errorf("projected status = %s, want %s", got, want)
			}
		})
	}
}

func TestSubmit_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	h := newHarness(t)
	h.seedOrder(t, "o-span")

	if _, err := h.engine.Submit(context.Background(), "o-span"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := h.engine.ApplyDecision(context.Background(), &order.DecisionEvent{
		OrderID:  "o-span",
		Decision: order.DecisionApproved,
		Actor:    "alice",
	}); err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}

	counts := make(map[string]int)
	var submitAttrs map[string]any
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
		if s.Name == "workflow.Submit" {
			submitAttrs = make(map[string]any)
			for _, a := range s.Attributes {
				submitAttrs[string(a.Key)] = a.Value.AsInterface()
			}
		}
	}

	if counts["workflow.Submit"] != 1 {
		t.Errorf("workflow.Submit spans = %d, want 1", counts["workflow.Submit"])
	}
	if counts["workflow.ApplyDecision"] != 1 {
		t.Errorf("workflow.ApplyDecision spans = %d, want 1", counts["workflow.ApplyDecision"])
	}
	if submitAttrs == nil {
		t.Fatal("workflow.Submit span not exported")
	}
	if v, ok := submitAttrs["greenlight.order.id"]; !ok || v != "o-span" {
		t.Errorf("greenlight.order.id = %v, want o-span", v)
	}
}

// brokenWriter fails every status write.
type brokenWriter struct {
	order.Store
}

func (brokenWriter) SetStatus(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestSubmit_StatusWriteFailure_IsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedOrder(t, "o-13")

	broken := brokenWriter{Store: h.orders}
	engine := NewEngine(Config{
		Store:        broken,
		Validator:    validate.New(h.orders),
		Assessor:     risk.New(nil, h.orders, time.Second, nil),
		Policy:       routing.DefaultPolicy(100_000),
		RouteCtx:     h.engine.routeCtx,
		Dispatcher:   h.dispatcher,
		Recorder:     audit.NewRecorder(h.trail, h.escalator, nil),
		Escalator:    h.escalator,
		RetryElapsed: 50 * time.Millisecond,
		DispatchMax:  2,
	})

	result, err := engine.Submit(context.Background(), "o-13")
	if !IsKind(err, KindFatalInconsistency) {
		t.Fatalf("Submit = %v, want fatal inconsistency", err)
	}
	if result.FinalState != StateFailed {
		t.Errorf("FinalState = %s, want failed", result.FinalState)
	}
	if h.escalator.count() == 0 {
		t.Error("no escalation for a fatal status-write failure")
	}
}

func containsOp(ops []string, want string) bool {
	for _, op := range ops {
		if op == want {
			return true
		}
	}
	return false
}

func countOp(ops []string, want string) int {
	n := 0
	for _, op := range ops {
		if op == want {
			n++
		}
	}
	return n
}
