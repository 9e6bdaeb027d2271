package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/keyfleet/internal/api/request"
	"github.com/edvin/keyfleet/internal/api/response"
	"github.com/edvin/keyfleet/internal/core"
)

// Operation exposes the retry queue for inspection and operator requeue.
type Operation struct {
	svc *core.OutboxService
}

func NewOperation(svc *core.OutboxService) *Operation {
	return &Operation{svc: svc}
}

func (h *Operation) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	status := r.URL.Query().Get("status")

	ops, hasMore, err := h.svc.List(r.Context(), status, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(ops) > 0 {
		nextCursor = ops[len(ops)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, ops, nextCursor, hasMore)
}

func (h *Operation) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	op, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, op)
}

// Requeue gives a parked operation a fresh attempt budget and makes it
// due immediately. Meant for terminally failed operations after the
// underlying problem was fixed.
func (h *Operation) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Requeue(r.Context(), id); err != nil {
		response.WriteError(w, http.StatusConflict, err.Error())
		return
	}

	op, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, op)
}
