package approvalapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/greenlight/internal/workflow"
)

// handleSubmit runs the approval workflow synchronously and returns
// the structured outcome. A failed validation is still a 200: the
// workflow completed, the order just did not pass.
func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("greenlight.order.id", id))

	result, err := a.svc.Submit(r.Context(), id)
	if err != nil {
		a.writeWorkflowError(w, r, id, err)
		return
	}

	span.SetAttributes(attribute.String("greenlight.order.state", string(result.FinalState)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// writeWorkflowError maps the engine's fault taxonomy onto HTTP
// statuses. A protocol violation against a missing order is a 404;
// against an existing one it is a 409.
func (a *API) writeWorkflowError(w http.ResponseWriter, r *http.Request, orderID string, err error) {
	switch {
	case workflow.IsKind(err, workflow.KindProtocolViolation):
		if _, ok, lerr := a.orders.GetOrder(r.Context(), orderID); lerr == nil && !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		a.logger.Warn(r.Context(), "workflow protocol violation", "order_id", orderID, "error", err)
		writeJSONError(w, err.Error(), http.StatusConflict)
	case workflow.IsKind(err, workflow.KindTransientFault):
		a.logger.Warn(r.Context(), "workflow transient fault", "order_id", orderID, "error", err)
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		a.logger.Error(r.Context(), err, "workflow failed", "order_id", orderID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
