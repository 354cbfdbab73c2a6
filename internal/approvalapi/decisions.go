package approvalapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/greenlight/internal/order"
)

// handleDecision consumes an approver decision event. Delivery is
// at-least-once: a replay of the applied decision returns 202, a
// decision that no longer applies returns 409.
func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	var ev order.DecisionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if ev.OrderID == "" || !ev.Decision.Valid() {
		http.Error(w, `{"error":"order_id and a valid decision are required"}`, http.StatusBadRequest)
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("greenlight.order.id", ev.OrderID),
		attribute.String("greenlight.decision", string(ev.Decision)),
	)

	result, err := a.svc.ApplyDecision(r.Context(), &ev)
	if err != nil {
		a.writeWorkflowError(w, r, ev.OrderID, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == "duplicate" {
		status = http.StatusAccepted
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}
