package handler

import (
	"net/http"
	"strconv"

	"github.com/edvin/keyfleet/internal/api/request"
	"github.com/edvin/keyfleet/internal/api/response"
	"github.com/edvin/keyfleet/internal/core"
)

type Alert struct {
	svc *core.AlertService
}

func NewAlert(svc *core.AlertService) *Alert {
	return &Alert{svc: svc}
}

// List returns alerts newest first. The cursor is the numeric ID of the
// last alert on the previous page.
func (h *Alert) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	kind := r.URL.Query().Get("kind")

	var cursor int64
	if pg.Cursor != "" {
		n, err := strconv.ParseInt(pg.Cursor, 10, 64)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = n
	}

	alerts, hasMore, err := h.svc.List(r.Context(), kind, pg.Limit, cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(alerts) > 0 {
		nextCursor = strconv.FormatInt(alerts[len(alerts)-1].ID, 10)
	}
	response.WritePaginated(w, http.StatusOK, alerts, nextCursor, hasMore)
}
