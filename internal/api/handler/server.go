package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/keyfleet/internal/api/request"
	"github.com/edvin/keyfleet/internal/api/response"
	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
)

// Registry is the fleet-registry surface the server endpoints use.
// registry.Registry satisfies it.
type Registry interface {
	All() []model.PanelServer
	Get(name string) (model.PanelServer, error)
	Adapter(name string) (panel.Adapter, error)
	SetActive(name string, active bool) error
	Reload() error
}

type Server struct {
	reg Registry
}

func NewServer(reg Registry) *Server {
	return &Server{reg: reg}
}

func (h *Server) List(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, h.reg.All())
}

func (h *Server) Get(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireID(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	server, err := h.reg.Get(name)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, server)
}

// SetActive toggles whether the server takes part in create fan-outs.
// Deletes and reconciliation still reach inactive servers.
func (h *Server) SetActive(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireID(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.SetServerActive
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.reg.SetActive(name, *req.Active); err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	server, err := h.reg.Get(name)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, server)
}

// Reload re-reads the fleet definition file. Runtime active toggles are
// discarded in favor of the file.
func (h *Server) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Reload(); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, h.reg.All())
}

// Restart asks the panel to restart its proxy process so configuration
// changes take effect.
func (h *Server) Restart(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireID(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	adapter, err := h.reg.Adapter(name)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := adapter.RestartProcess(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("server", name).Msg("restart panel")
		response.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
