package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/keyfleet/internal/api/middleware"
	"github.com/edvin/keyfleet/internal/api/request"
	"github.com/edvin/keyfleet/internal/api/response"
	"github.com/edvin/keyfleet/internal/core"
	"github.com/edvin/keyfleet/internal/fleet"
	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
)

// Fleet is the orchestrator surface key endpoints dispatch to.
// fleet.Orchestrator satisfies it.
type Fleet interface {
	CreateKey(ctx context.Context, req fleet.CreateRequest) (*fleet.Result, error)
	DeleteKey(ctx context.Context, clientUUID, actor string) (*fleet.Result, error)
	RenewKey(ctx context.Context, clientUUID string, days int, actor string) (*fleet.Result, error)
	SuspendKey(ctx context.Context, clientUUID, actor string) (*fleet.Result, error)
	ReactivateKey(ctx context.Context, clientUUID, actor string) (*fleet.Result, error)
}

// Panels resolves configured servers and their adapters for link
// building. registry.Registry satisfies it.
type Panels interface {
	Get(name string) (model.PanelServer, error)
	Adapter(name string) (panel.Adapter, error)
}

type Key struct {
	fleet  Fleet
	svc    *core.Services
	panels Panels
}

func NewKey(fleet Fleet, svc *core.Services, panels Panels) *Key {
	return &Key{fleet: fleet, svc: svc, panels: panels}
}

// createKeyResponse is the fan-out result plus, on full success, a ready
// connection link per server.
type createKeyResponse struct {
	*fleet.Result
	Links []keyLink `json:"links,omitempty"`
}

// Create provisions a key across the active fleet, or on one pinned
// server. 201 when every server confirmed, 202 when the create went to
// the retry queue, 409 when a panel refused it or the email is taken.
func (h *Key) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateKey
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	expireAt := req.ExpireAt
	if req.Days > 0 {
		t := time.Now().AddDate(0, 0, req.Days)
		expireAt = &t
	}

	result, err := h.fleet.CreateKey(r.Context(), fleet.CreateRequest{
		Email:             req.Email,
		Phone:             req.Phone,
		ExpireAt:          expireAt,
		IPLimit:           req.IPLimit,
		TrafficLimitBytes: req.TrafficLimitBytes,
		Server:            req.Server,
		Actor:             mw.ActorName(r.Context()),
	})
	if err != nil {
		if errors.Is(err, fleet.ErrDuplicateEmail) {
			response.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := createKeyResponse{Result: result}
	if result.Status == fleet.StatusFullSuccess && h.panels != nil {
		for _, out := range result.Outcomes {
			resp.Links = append(resp.Links, h.buildLink(r.Context(), out.Server, result.Email))
		}
	}
	response.WriteJSON(w, resultStatusCode(result, http.StatusCreated), resp)
}

func (h *Key) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	status := r.URL.Query().Get("status")

	clients, hasMore, err := h.svc.Client.List(r.Context(), status, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(clients) > 0 {
		nextCursor = clients[len(clients)-1].UUID
	}
	response.WritePaginated(w, http.StatusOK, clients, nextCursor, hasMore)
}

const detailEventLimit = 20

// Get returns the key with its memberships, recent audit events, and the
// latest traffic snapshots. Served entirely from the record store.
func (h *Key) Get(w http.ResponseWriter, r *http.Request) {
	uuid, err := request.RequireID(chi.URLParam(r, "uuid"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, err := h.svc.Client.GetByUUID(r.Context(), uuid)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	memberships, err := h.svc.Membership.ListByClient(r.Context(), uuid)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := h.svc.Lifecycle.ListByClient(r.Context(), uuid, detailEventLimit)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	traffic, err := h.svc.Traffic.ListByClient(r.Context(), uuid)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"client":      client,
		"memberships": memberships,
		"events":      events,
		"traffic":     traffic,
	})
}

// keyLink is one server's connection URI for a key, or the reason it
// could not be built.
type keyLink struct {
	Server string `json:"server"`
	Link   string `json:"link,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Links builds connection URIs by asking each server currently holding
// the key. The host is overridden with the server's connect domain when
// one is configured. Unlike Get, this endpoint talks to the panels.
func (h *Key) Links(w http.ResponseWriter, r *http.Request) {
	uuid, err := request.RequireID(chi.URLParam(r, "uuid"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, err := h.svc.Client.GetByUUID(r.Context(), uuid)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	memberships, err := h.svc.Membership.ListByClient(r.Context(), uuid)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	links := []keyLink{}
	for _, m := range memberships {
		if m.Status != model.MembershipActive {
			continue
		}
		links = append(links, h.buildLink(r.Context(), m.ServerName, client.Email))
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (h *Key) buildLink(ctx context.Context, serverName, email string) keyLink {
	server, err := h.panels.Get(serverName)
	if err != nil {
		return keyLink{Server: serverName, Error: err.Error()}
	}
	adapter, err := h.panels.Adapter(serverName)
	if err != nil {
		return keyLink{Server: serverName, Error: err.Error()}
	}
	link, err := adapter.ClientLink(ctx, email, server.ConnectDomain)
	if err != nil {
		return keyLink{Server: serverName, Error: err.Error()}
	}
	return keyLink{Server: serverName, Link: link}
}

// Delete removes the key fleet-wide. 200 when every server confirmed,
// 202 when unreachable servers got a queued delete; in that case the
// client stays visible with its surviving memberships until the queue
// clears the last one.
func (h *Key) Delete(w http.ResponseWriter, r *http.Request) {
	uuid, err := request.RequireID(chi.URLParam(r, "uuid"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.fleet.DeleteKey(r.Context(), uuid, mw.ActorName(r.Context()))
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, resultStatusCode(result, http.StatusOK), result)
}

func (h *Key) Renew(w http.ResponseWriter, r *http.Request) {
	uuid, err := request.RequireID(chi.URLParam(r, "uuid"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.RenewKey
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.fleet.RenewKey(r.Context(), uuid, req.Days, mw.ActorName(r.Context()))
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, resultStatusCode(result, http.StatusOK), result)
}

func (h *Key) Suspend(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.fleet.SuspendKey)
}

func (h *Key) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.fleet.ReactivateKey)
}

func (h *Key) toggle(w http.ResponseWriter, r *http.Request, call func(context.Context, string, string) (*fleet.Result, error)) {
	uuid, err := request.RequireID(chi.URLParam(r, "uuid"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := call(r.Context(), uuid, mw.ActorName(r.Context()))
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, resultStatusCode(result, http.StatusOK), result)
}

// resultStatusCode maps a fan-out result to an HTTP status: fullSuccess
// is the operation's own success code, queued hand-offs are 202, refusals
// 409, and best-effort partial failures 502.
func resultStatusCode(result *fleet.Result, fullSuccess int) int {
	switch result.Status {
	case fleet.StatusFullSuccess:
		return fullSuccess
	case fleet.StatusPartialQueued:
		return http.StatusAccepted
	case fleet.StatusFailed:
		return http.StatusConflict
	case fleet.StatusPartial:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}
