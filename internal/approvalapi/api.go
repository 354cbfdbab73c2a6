// Package approvalapi exposes the approval workflow over HTTP.
package approvalapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/greenlight/internal/audit"
	"github.com/linnemanlabs/greenlight/internal/order"
	"github.com/linnemanlabs/greenlight/internal/workflow"
)

// WorkflowService defines the business operations approvalapi needs.
type WorkflowService interface {
	Submit(ctx context.Context, orderID string) (*workflow.Result, error)
	ApplyDecision(ctx context.Context, ev *order.DecisionEvent) (*workflow.Result, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    WorkflowService
	orders order.Reader
	trail  audit.Log
}

// New creates a new API handler.
func New(logger log.Logger, svc WorkflowService, orders order.Reader, trail audit.Log) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("workflow service is required"))
	}
	if orders == nil {
		panic(xerrors.New("order reader is required"))
	}
	if trail == nil {
		panic(xerrors.New("audit log is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		orders: orders,
		trail:  trail,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders/{id}/approval", a.handleSubmit)
		r.Get("/orders/{id}/approval", a.handleGetApproval)
		r.Post("/decisions", a.handleDecision)
	})
}

// approvalView is the GET response: current state plus the full audit
// trail, which is the authoritative history.
type approvalView struct {
	OrderID string         `json:"order_id"`
	State   workflow.State `json:"state"`
	Order   *order.Order   `json:"order"`
	Audit   []audit.Entry  `json:"audit"`
}

func (a *API) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("greenlight.order.id", id))

	o, ok, err := a.orders.GetOrder(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load order", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	entries, err := a.trail.ListByOrder(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load audit trail", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	view := approvalView{
		OrderID: id,
		State:   workflow.StateFromStatus(o.Status),
		Order:   o,
		Audit:   entries,
	}

	span.SetAttributes(attribute.String("greenlight.order.state", string(view.State)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(view)
}
