package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/edvin/keyfleet/internal/api/response"
	"github.com/edvin/keyfleet/internal/reconcile"
)

// Reconciling is the on-demand surface of the reconciler.
// reconcile.Reconciler satisfies it.
type Reconciling interface {
	RunOnce(ctx context.Context) *reconcile.Report
	ReconcileClient(ctx context.Context, clientUUID string) (*reconcile.Report, error)
}

type Reconcile struct {
	rec Reconciling
}

func NewReconcile(rec Reconciling) *Reconcile {
	return &Reconcile{rec: rec}
}

// Trigger runs a reconciliation pass synchronously and returns the drift
// report: the whole fleet by default, a single key when ?client= is set.
func (h *Reconcile) Trigger(w http.ResponseWriter, r *http.Request) {
	if uuid := r.URL.Query().Get("client"); uuid != "" {
		rep, err := h.rec.ReconcileClient(r.Context(), uuid)
		switch {
		case errors.Is(err, reconcile.ErrUnknownClient):
			response.WriteError(w, http.StatusNotFound, err.Error())
		case err != nil:
			response.WriteError(w, http.StatusInternalServerError, err.Error())
		default:
			response.WriteJSON(w, http.StatusOK, rep)
		}
		return
	}

	response.WriteJSON(w, http.StatusOK, h.rec.RunOnce(r.Context()))
}
