package handler

import (
	"net/http"

	"github.com/edvin/keyfleet/internal/api/response"
	"github.com/edvin/keyfleet/internal/core"
	"github.com/edvin/keyfleet/internal/model"
)

// Stats summarizes the fleet for the operator dashboard: key counts per
// status, queue depth per status, and the configured server set.
type Stats struct {
	svc *core.Services
	reg Registry
}

func NewStats(svc *core.Services, reg Registry) *Stats {
	return &Stats{svc: svc, reg: reg}
}

func (h *Stats) Get(w http.ResponseWriter, r *http.Request) {
	keys, err := h.svc.Client.CountByStatus(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	queue, err := h.svc.Outbox.Depth(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	servers := h.reg.All()
	active := 0
	for _, s := range servers {
		if s.IsActive {
			active++
		}
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"keys":           keys,
		"queue":          queue,
		"servers_total":  len(servers),
		"servers_active": active,
		"queue_backlog":  queue[model.OperationQueued] + queue[model.OperationInProgress],
	})
}
