package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertList_InvalidCursor(t *testing.T) {
	h := NewAlert(nil)
	rec := httptest.NewRecorder()

	h.List(rec, newRequest(http.MethodGet, "/alerts?cursor=not-a-number", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "invalid cursor")
}
