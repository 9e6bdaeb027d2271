package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyCreate_MissingName(t *testing.T) {
	h := NewAPIKey(nil)
	rec := httptest.NewRecorder()

	h.Create(rec, newRequest(http.MethodPost, "/api-keys", map[string]any{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "validation error")
}

func TestAPIKeyCreate_InvalidSlugName(t *testing.T) {
	tests := []struct {
		name string
		slug string
	}{
		{"uppercase", "Ops-Key"},
		{"spaces", "ops key"},
		{"starts with digit", "1ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAPIKey(nil)
			rec := httptest.NewRecorder()

			h.Create(rec, newRequest(http.MethodPost, "/api-keys", map[string]any{"name": tt.slug}))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAPIKeyRevoke_MissingID(t *testing.T) {
	h := NewAPIKey(nil)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodDelete, "/api-keys/", nil), "id", "")

	h.Revoke(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
