// Package audit is the append-only ledger of every workflow transition
// and externally observable operation. Entries are immutable once
// written and are the authoritative history for reconstructing an
// order's lifecycle; the order status field is only a projection of
// this log.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Operation names. Exactly one entry is written per operation.
const (
	OpValidationRun          = "validation_run"
	OpValidationFailed       = "validation_failed"
	OpRiskAssessed           = "risk_assessed"
	OpRoutingDecided         = "routing_decided"
	OpNotificationDispatched = "notification_dispatched"
	OpDecisionApplied        = "decision_applied"
	OpDecisionDuplicate      = "decision_duplicate"
	OpStaleDecision          = "stale_decision"
	OpWorkflowFailed         = "workflow_failed"
)

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

// Entry is one immutable audit record.
type Entry struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Operation string          `json:"operation"`
	Actor     string          `json:"actor,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// Log is the persistence interface. Append-only: there is no update or
// delete path.
type Log interface {
	Append(ctx context.Context, e *Entry) error
	ListByOrder(ctx context.Context, orderID string) ([]Entry, error)
}

// Escalator surfaces an audit-write failure to an operator-visible
// channel. It must not block.
type Escalator interface {
	Escalate(ctx context.Context, subject, detail string)
}

// Recorder writes entries with bounded retries. A failed write never
// rolls back the business transition that produced it; after retries
// are exhausted the failure is escalated so no transition stays
// silently unaudited.
type Recorder struct {
	log       Log
	escalator Escalator
	logger    log.Logger

	maxElapsed time.Duration
}

// NewRecorder creates a Recorder. escalator may be nil in tests.
func NewRecorder(l Log, escalator Escalator, logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.Nop()
	}
	return &Recorder{
		log:        l,
		escalator:  escalator,
		logger:     logger,
		maxElapsed: 10 * time.Second,
	}
}

// Record fills in id and timestamp and appends the entry, retrying
// transient failures with exponential backoff.
func (r *Recorder) Record(ctx context.Context, e *Entry) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, r.log.Append(ctx, e)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(r.maxElapsed),
	)
	if err == nil {
		return
	}

	r.logger.Error(ctx, err, "audit write failed after retries",
		"order_id", e.OrderID, "operation", e.Operation)
	if r.escalator != nil {
		r.escalator.Escalate(ctx, "audit write failure",
			"order "+e.OrderID+" operation "+e.Operation+" is unaudited: "+err.Error())
	}
}

// Payload marshals v for an entry payload, degrading to null rather
// than failing the record.
func Payload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
