package workflow

import "github.com/linnemanlabs/greenlight/internal/order"

// State tracks where an order is in the approval lifecycle. The state
// is projected onto the order store's status field; the audit log is
// the authoritative history.
type State string

const (
	StateCreated          State = "created"
	StateValidating       State = "validating"
	StateValidated        State = "validated"
	StateValidationFailed State = "validation_failed"
	StateRoutingPending   State = "routing_pending"
	StateAwaitingDecision State = "awaiting_decision"
	StateApproved         State = "approved"
	StateRejected         State = "rejected"
	StateChangesRequested State = "changes_requested"
	StateFailed           State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateValidationFailed, StateApproved, StateRejected, StateChangesRequested, StateFailed:
		return true
	}
	return false
}

// stateForDecision maps an approver decision to its terminal state.
func stateForDecision(d order.Decision) State {
	switch d {
	case order.DecisionApproved:
		return StateApproved
	case order.DecisionRejected:
		return StateRejected
	default:
		return StateChangesRequested
	}
}

// decisionForState is the inverse of stateForDecision for terminal
// decision states; ok is false for every other state.
func decisionForState(s State) (order.Decision, bool) {
	switch s {
	case StateApproved:
		return order.DecisionApproved, true
	case StateRejected:
		return order.DecisionRejected, true
	case StateChangesRequested:
		return order.DecisionChangesRequested, true
	}
	return "", false
}

// StateFromStatus interprets the persisted status projection. An
// unknown or empty status is treated as freshly created.
func StateFromStatus(status string) State {
	switch State(status) {
	case StateValidating, StateValidated, StateValidationFailed, StateRoutingPending,
		StateAwaitingDecision, StateApproved, StateRejected, StateChangesRequested, StateFailed:
		return State(status)
	}
	return StateCreated
}
