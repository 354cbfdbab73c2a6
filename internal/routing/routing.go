// Package routing decides which destination an order's approval
// request is sent to. A Policy is a flat, priority-ordered list of
// Rule variants; the first rule whose Matches returns true determines
// the destination. New routing behavior is a new Rule implementation,
// never a new branch inside an existing one.
package routing

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/greenlight/internal/directory"
	"github.com/linnemanlabs/greenlight/internal/order"
)

// ChannelElevatedApproval is the channel type used for high-value
// order review destinations.
const ChannelElevatedApproval = "elevated_approval"

// Context is the read-only state rules may consult. Rules never mutate
// it.
type Context struct {
	Channels  *directory.Registry
	Approvers *directory.Resolver

	// DefaultDestination receives anything no specific destination can
	// be resolved for. EscalationDestination receives urgent orders.
	DefaultDestination    string
	EscalationDestination string
}

// Decision names the destination and the rule that chose it.
type Decision struct {
	Destination string `json:"destination"`
	Rule        string `json:"rule"`
}

// Rule is one routing policy variant.
type Rule interface {
	Name() string
	Matches(o *order.Order) bool
	Destination(ctx context.Context, o *order.Order, rc *Context) (string, error)
}

// Policy evaluates rules strictly in order.
type Policy struct {
	rules []Rule
}

// NewPolicy builds a policy from rules in priority order. The caller
// must ensure the last rule always matches; Default does.
func NewPolicy(rules ...Rule) *Policy {
	return &Policy{rules: rules}
}

// DefaultPolicy is the reference rule order: urgent escalation, then
// high-value elevation at the given threshold, then assigned-approver
// default.
func DefaultPolicy(highValueThreshold float64) *Policy {
	return NewPolicy(&UrgentRule{}, &HighValueRule{Threshold: highValueThreshold}, &DefaultRule{})
}

// Route returns the decision of the first matching rule. The default
// rule guarantees totality, so a nil decision is impossible on a
// well-formed policy.
func (p *Policy) Route(ctx context.Context, o *order.Order, rc *Context) (*Decision, error) {
	for _, r := range p.rules {
		if !r.Matches(o) {
			continue
		}
		dest, err := r.Destination(ctx, o, rc)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name(), err)
		}
		return &Decision{Destination: dest, Rule: r.Name()}, nil
	}
	return nil, fmt.Errorf("no routing rule matched order %s", o.ID)
}

// UrgentRule escalates orders flagged urgent regardless of budget.
type UrgentRule struct{}

func (UrgentRule) Name() string { return "urgent" }

func (UrgentRule) Matches(o *order.Order) bool { return o.Urgent }

func (UrgentRule) Destination(_ context.Context, _ *order.Order, rc *Context) (string, error) {
	return rc.EscalationDestination, nil
}

// HighValueRule routes orders at or above Threshold to the vertical's
// elevated-approval channel. The boundary is inclusive.
type HighValueRule struct {
	Threshold float64
}

func (HighValueRule) Name() string { return "high_value" }

func (h *HighValueRule) Matches(o *order.Order) bool { return o.Budget >= h.Threshold }

func (HighValueRule) Destination(_ context.Context, o *order.Order, rc *Context) (string, error) {
	dest, ok := rc.Channels.Resolve(ChannelElevatedApproval, o.Vertical, o.Budget)
	if !ok {
		return "", fmt.Errorf("no %s channel for vertical %q", ChannelElevatedApproval, o.Vertical)
	}
	return dest, nil
}

// DefaultRule always matches: it routes to the principal's assigned
// approver, or the global default destination when unassigned.
type DefaultRule struct{}

func (DefaultRule) Name() string { return "default" }

func (DefaultRule) Matches(_ *order.Order) bool { return true }

func (DefaultRule) Destination(ctx context.Context, o *order.Order, rc *Context) (string, error) {
	approver, ok, err := rc.Approvers.Approver(ctx, o.PrincipalID)
	if err != nil {
		return "", err
	}
	if !ok {
		return rc.DefaultDestination, nil
	}
	return approver, nil
}
