package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/greenlight/internal/audit"
	"github.com/linnemanlabs/greenlight/internal/notify"
	"github.com/linnemanlabs/greenlight/internal/order"
	"github.com/linnemanlabs/greenlight/internal/risk"
	"github.com/linnemanlabs/greenlight/internal/routing"
	"github.com/linnemanlabs/greenlight/internal/validate"
)

var tracer = otel.Tracer("github.com/linnemanlabs/greenlight/internal/workflow")

// Dispatcher delivers an approval request to a destination. It may
// fail or time out; the engine owns retry and fallback.
type Dispatcher interface {
	Dispatch(ctx context.Context, destination string, msg *notify.Message) error
}

// Escalator surfaces unrecoverable faults to an operator-visible
// channel. It must not block.
type Escalator interface {
	Escalate(ctx context.Context, subject, detail string)
}

// Result is the structured workflow outcome returned to callers.
type Result struct {
	OrderID    string            `json:"order_id"`
	FinalState State             `json:"final_state"`
	Outcome    string            `json:"outcome,omitempty"`
	Validation *validate.Result  `json:"validation_result,omitempty"`
	Assessment *risk.Assessment  `json:"assessment,omitempty"`
	Routing    *routing.Decision `json:"routing_decision,omitempty"`
}

// EngineHooks are optional callbacks for instrumentation. Nil funcs
// are skipped.
type EngineHooks struct {
	OnComplete           func(state State, duration float64)
	OnDecision           func(decision, outcome string)
	OnDispatchAttempt    func()
	OnDispatchFallback   func()
	OnDegradedAssessment func()
	OnValidation         func(duration float64)
	OnAssessment         func(duration float64)
}

// Engine is the approval workflow state machine. Orders progress
// independently; within one order a per-order lease keeps execution
// sequential.
type Engine struct {
	store      order.Store
	validator  *validate.Validator
	assessor   *risk.Assessor
	policy     *routing.Policy
	routeCtx   *routing.Context
	dispatcher Dispatcher
	recorder   *audit.Recorder
	escalator  Escalator
	logger     log.Logger
	hooks      EngineHooks
	locks      *orderLocks

	retryElapsed time.Duration
	dispatchMax  uint
}

// Config carries the engine's collaborators.
type Config struct {
	Store      order.Store
	Validator  *validate.Validator
	Assessor   *risk.Assessor
	Policy     *routing.Policy
	RouteCtx   *routing.Context
	Dispatcher Dispatcher
	Recorder   *audit.Recorder
	Escalator  Escalator
	Logger     log.Logger
	Hooks      EngineHooks

	// RetryElapsed bounds transient-fault retry loops; DispatchMax
	// bounds dispatch attempts before falling back to the default
	// destination.
	RetryElapsed time.Duration
	DispatchMax  uint
}

// NewEngine creates the workflow engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	retryElapsed := cfg.RetryElapsed
	if retryElapsed <= 0 {
		retryElapsed = 15 * time.Second
	}
	dispatchMax := cfg.DispatchMax
	if dispatchMax == 0 {
		dispatchMax = 4
	}
	return &Engine{
		store:        cfg.Store,
		validator:    cfg.Validator,
		assessor:     cfg.Assessor,
		policy:       cfg.Policy,
		routeCtx:     cfg.RouteCtx,
		dispatcher:   cfg.Dispatcher,
		recorder:     cfg.Recorder,
		escalator:    cfg.Escalator,
		logger:       logger,
		hooks:        cfg.Hooks,
		locks:        newOrderLocks(),
		retryElapsed: retryElapsed,
		dispatchMax:  dispatchMax,
	}
}

// Submit runs the approval workflow for a durably created order, from
// validation through notification dispatch. It returns when the order
// reaches AwaitingDecision or a terminal state.
func (e *Engine) Submit(ctx context.Context, orderID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "workflow.Submit", trace.WithAttributes(
		attribute.String("greenlight.order.id", orderID),
	))
	defer span.End()

	start := time.Now()

	if !e.locks.acquire(orderID) {
		return nil, Transient(fmt.Errorf("workflow already running for order %s", orderID))
	}
	defer e.locks.release(orderID)

	L := e.logger.With("order_id", orderID)
	result := &Result{OrderID: orderID}

	o, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if s := StateFromStatus(o.Status); s != StateCreated {
		return nil, Protocol("order %s is %s, not eligible for submission", orderID, s)
	}

	// Created -> Validating
	if err := e.transition(ctx, result, o, StateValidating); err != nil {
		return result, err
	}

	vstart := time.Now()
	vr, err := e.runValidation(ctx, o)
	if err != nil {
		e.fail(ctx, result, o, fmt.Errorf("validation infrastructure: %w", err))
		return result, Transient(err)
	}
	if e.hooks.OnValidation != nil {
		e.hooks.OnValidation(time.Since(vstart).Seconds())
	}
	result.Validation = vr

	vrStatus := audit.StatusSuccess
	if !vr.AllPassed {
		vrStatus = audit.StatusFailed
	}
	e.recorder.Record(ctx, &audit.Entry{
		OrderID:   orderID,
		Operation: audit.OpValidationRun,
		Status:    vrStatus,
		Payload:   audit.Payload(vr),
	})

	if !vr.AllPassed {
		// Validating -> ValidationFailed; the process stops here and
		// no notification is ever dispatched.
		if err := e.transition(ctx, result, o, StateValidationFailed); err != nil {
			return result, err
		}
		e.recorder.Record(ctx, &audit.Entry{
			OrderID:   orderID,
			Operation: audit.OpValidationFailed,
			Status:    audit.StatusFailed,
			Payload:   audit.Payload(map[string]any{"failed_checks": vr.Failed()}),
		})
		L.Info(ctx, "validation failed", "checks", vr.Failed())
		e.complete(result, start)
		return result, nil
	}

	// Validating -> Validated -> RoutingPending
	if err := e.transition(ctx, result, o, StateValidated); err != nil {
		return result, err
	}
	if err := e.transition(ctx, result, o, StateRoutingPending); err != nil {
		return result, err
	}

	astart := time.Now()
	assessment := e.assessor.Assess(ctx, o, vr)
	if e.hooks.OnAssessment != nil {
		e.hooks.OnAssessment(time.Since(astart).Seconds())
	}
	if assessment.Degraded && e.hooks.OnDegradedAssessment != nil {
		e.hooks.OnDegradedAssessment()
	}
	result.Assessment = assessment
	e.recorder.Record(ctx, &audit.Entry{
		OrderID:   orderID,
		Operation: audit.OpRiskAssessed,
		Status:    audit.StatusSuccess,
		Payload:   audit.Payload(assessment),
	})

	decision, err := e.route(ctx, o)
	if err != nil {
		e.fail(ctx, result, o, fmt.Errorf("routing: %w", err))
		return result, Transient(err)
	}
	result.Routing = decision
	e.recorder.Record(ctx, &audit.Entry{
		OrderID:   orderID,
		Operation: audit.OpRoutingDecided,
		Status:    audit.StatusSuccess,
		Payload:   audit.Payload(decision),
	})

	msg := buildMessage(o, vr, assessment, decision)
	destination, fellBack, err := e.dispatch(ctx, decision.Destination, msg)
	if err != nil {
		e.recorder.Record(ctx, &audit.Entry{
			OrderID:   orderID,
			Operation: audit.OpNotificationDispatched,
			Status:    audit.StatusFailed,
			Payload:   audit.Payload(map[string]any{"destination": decision.Destination, "error": err.Error()}),
		})
		e.fail(ctx, result, o, fmt.Errorf("notification dispatch exhausted: %w", err))
		return result, Transient(err)
	}
	e.recorder.Record(ctx, &audit.Entry{
		OrderID:   orderID,
		Operation: audit.OpNotificationDispatched,
		Status:    audit.StatusSuccess,
		Payload:   audit.Payload(map[string]any{"destination": destination, "fallback": fellBack}),
	})

	// RoutingPending -> AwaitingDecision
	if err := e.transition(ctx, result, o, StateAwaitingDecision); err != nil {
		return result, err
	}

	L.Info(ctx, "awaiting decision",
		"destination", destination,
		"rule", decision.Rule,
		"recommendation", assessment.Recommendation,
		"risk_level", assessment.RiskLevel,
	)
	e.complete(result, start)
	return result, nil
}

// ApplyDecision consumes an external decision event. Events are
// at-least-once and possibly out of order: a replay of the applied
// decision is a no-op audited as a duplicate; anything else outside
// AwaitingDecision is rejected as stale.
func (e *Engine) ApplyDecision(ctx context.Context, ev *order.DecisionEvent) (*Result, error) {
	ctx, span := tracer.Start(ctx, "workflow.ApplyDecision", trace.WithAttributes(
		attribute.String("greenlight.order.id", ev.OrderID),
		attribute.String("greenlight.decision", string(ev.Decision)),
	))
	defer span.End()

	if ev.OrderID == "" || !ev.Decision.Valid() {
		return nil, Protocol("malformed decision event: order=%q decision=%q", ev.OrderID, ev.Decision)
	}

	if !e.locks.acquire(ev.OrderID) {
		return nil, Transient(fmt.Errorf("workflow busy for order %s", ev.OrderID))
	}
	defer e.locks.release(ev.OrderID)

	L := e.logger.With("order_id", ev.OrderID, "decision", string(ev.Decision), "actor", ev.Actor)

	o, err := e.loadOrder(ctx, ev.OrderID)
	if err != nil {
		if IsKind(err, KindProtocolViolation) {
			e.recorder.Record(ctx, &audit.Entry{
				OrderID:   ev.OrderID,
				Operation: audit.OpStaleDecision,
				Actor:     ev.Actor,
				Status:    audit.StatusFailed,
				Payload:   audit.Payload(map[string]any{"decision": ev.Decision, "reason": "unknown order"}),
			})
		}
		return nil, err
	}

	state := StateFromStatus(o.Status)
	result := &Result{OrderID: ev.OrderID, FinalState: state}

	switch {
	case state == StateAwaitingDecision:
		next := stateForDecision(ev.Decision)
		if err := e.transition(ctx, result, o, next); err != nil {
			return result, err
		}
		e.recorder.Record(ctx, &audit.Entry{
			OrderID:   ev.OrderID,
			Operation: audit.OpDecisionApplied,
			Actor:     ev.Actor,
			Status:    audit.StatusSuccess,
			Payload:   audit.Payload(ev),
		})
		result.Outcome = "applied"
		if e.hooks.OnDecision != nil {
			e.hooks.OnDecision(string(ev.Decision), "applied")
		}
		L.Info(ctx, "decision applied", "final_state", string(next))
		return result, nil

	case isReplay(state, ev.Decision):
		// no state regression; the replay still leaves an audit trace
		e.recorder.Record(ctx, &audit.Entry{
			OrderID:   ev.OrderID,
			Operation: audit.OpDecisionDuplicate,
			Actor:     ev.Actor,
			Status:    audit.StatusSuccess,
			Payload:   audit.Payload(ev),
		})
		result.Outcome = "duplicate"
		if e.hooks.OnDecision != nil {
			e.hooks.OnDecision(string(ev.Decision), "duplicate")
		}
		L.Info(ctx, "duplicate decision ignored", "state", string(state))
		return result, nil

	default:
		e.recorder.Record(ctx, &audit.Entry{
			OrderID:   ev.OrderID,
			Operation: audit.OpStaleDecision,
			Actor:     ev.Actor,
			Status:    audit.StatusFailed,
			Payload:   audit.Payload(map[string]any{"decision": ev.Decision, "state": state}),
		})
		if e.hooks.OnDecision != nil {
			e.hooks.OnDecision(string(ev.Decision), "stale")
		}
		L.Warn(ctx, "stale decision rejected", "state", string(state))
		return result, Protocol("order %s is %s, decision %s not applicable", ev.OrderID, state, ev.Decision)
	}
}

// isReplay reports whether ev re-delivers the decision the order
// already settled on.
func isReplay(state State, d order.Decision) bool {
	applied, ok := decisionForState(state)
	return ok && applied == d
}

// loadOrder fetches the order snapshot, retrying transient store
// faults. A missing order is a protocol violation, not a retry.
func (e *Engine) loadOrder(ctx context.Context, id string) (*order.Order, error) {
	o, err := backoff.Retry(ctx, func() (*order.Order, error) {
		o, ok, err := e.store.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, backoff.Permanent(Protocol("unknown order %s", id))
		}
		return o, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(e.retryElapsed),
	)
	if err != nil {
		if IsKind(err, KindProtocolViolation) {
			return nil, err
		}
		return nil, Transient(fmt.Errorf("load order %s: %w", id, err))
	}
	return o, nil
}

// runValidation retries infrastructure faults; business outcomes pass
// through untouched.
func (e *Engine) runValidation(ctx context.Context, o *order.Order) (*validate.Result, error) {
	return backoff.Retry(ctx, func() (*validate.Result, error) {
		return e.validator.Run(ctx, o)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(e.retryElapsed),
	)
}

// route evaluates the policy, retrying transient resolver faults.
func (e *Engine) route(ctx context.Context, o *order.Order) (*routing.Decision, error) {
	return backoff.Retry(ctx, func() (*routing.Decision, error) {
		return e.policy.Route(ctx, o, e.routeCtx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(e.retryElapsed),
	)
}

// dispatch sends the message with bounded exponential backoff. When
// retries to the resolved destination are exhausted, delivery falls
// back to the global default destination rather than failing silently.
func (e *Engine) dispatch(ctx context.Context, destination string, msg *notify.Message) (string, bool, error) {
	try := func(dest string) error {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			if e.hooks.OnDispatchAttempt != nil {
				e.hooks.OnDispatchAttempt()
			}
			return struct{}{}, e.dispatcher.Dispatch(ctx, dest, msg)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(e.dispatchMax),
		)
		return err
	}

	if err := try(destination); err == nil {
		return destination, false, nil
	} else if destination == e.routeCtx.DefaultDestination {
		return "", false, err
	} else {
		e.logger.Warn(ctx, "dispatch exhausted, falling back to default destination",
			"destination", destination, "error", err)
	}

	if e.hooks.OnDispatchFallback != nil {
		e.hooks.OnDispatchFallback()
	}
	if err := try(e.routeCtx.DefaultDestination); err != nil {
		return "", true, err
	}
	return e.routeCtx.DefaultDestination, true, nil
}

// transition advances the state machine and persists the status
// projection. Repeated projection-write failure is a fatal
// inconsistency: the workflow halts in Failed pending operator action.
func (e *Engine) transition(ctx context.Context, result *Result, o *order.Order, next State) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, e.store.SetStatus(ctx, o.ID, string(next))
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(e.retryElapsed),
	)
	if err != nil {
		wrapped := Fatal(fmt.Errorf("persist state %s for order %s: %w", next, o.ID, err))
		e.fail(ctx, result, o, wrapped)
		return wrapped
	}
	o.Status = string(next)
	result.FinalState = next
	return nil
}

// fail moves the order to Failed, audits the fault, and escalates it
// to the operator channel. Never silent.
func (e *Engine) fail(ctx context.Context, result *Result, o *order.Order, cause error) {
	result.FinalState = StateFailed
	if err := e.store.SetStatus(ctx, o.ID, string(StateFailed)); err != nil {
		e.logger.Error(ctx, err, "failed to project Failed state", "order_id", o.ID)
	}
	e.recorder.Record(ctx, &audit.Entry{
		OrderID:   o.ID,
		Operation: audit.OpWorkflowFailed,
		Status:    audit.StatusFailed,
		Payload:   audit.Payload(map[string]any{"error": cause.Error()}),
	})
	if e.escalator != nil {
		e.escalator.Escalate(ctx, "approval workflow failed",
			fmt.Sprintf("order %s halted: %v", o.ID, cause))
	}
	e.logger.Error(ctx, cause, "workflow failed", "order_id", o.ID)
}

func (e *Engine) complete(result *Result, start time.Time) {
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(result.FinalState, time.Since(start).Seconds())
	}
}

// buildMessage flattens the workflow context into the dispatcher
// message.
func buildMessage(o *order.Order, vr *validate.Result, a *risk.Assessment, d *routing.Decision) *notify.Message {
	passed := 0
	for _, c := range vr.Checks {
		if c.Passed {
			passed++
		}
	}
	return &notify.Message{
		OrderID:           o.ID,
		CampaignName:      o.CampaignName,
		PrincipalID:       o.PrincipalID,
		Budget:            o.Budget,
		Currency:          o.Currency,
		FlightStart:       o.FlightStart.Format("2006-01-02"),
		FlightEnd:         o.FlightEnd.Format("2006-01-02"),
		Urgent:            o.Urgent,
		ValidationSummary: fmt.Sprintf("%d/%d checks passed", passed, len(vr.Checks)),
		RiskLevel:         string(a.RiskLevel),
		RiskFlags:         a.Flags,
		Recommendation:    string(a.Recommendation),
		Confidence:        string(a.Confidence),
		Summary:           a.Summary,
		MatchedRule:       d.Rule,
	}
}
