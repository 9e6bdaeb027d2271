package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
)

type restartAdapter struct {
	panel.Adapter
	err    error
	called bool
}

func (a *restartAdapter) RestartProcess(ctx context.Context) error {
	a.called = true
	return a.err
}

type fakeRegistry struct {
	servers  map[string]model.PanelServer
	adapters map[string]panel.Adapter
	reloads  int
}

func newFakeRegistry(names ...string) *fakeRegistry {
	reg := &fakeRegistry{
		servers:  make(map[string]model.PanelServer),
		adapters: make(map[string]panel.Adapter),
	}
	for _, name := range names {
		reg.servers[name] = model.PanelServer{Name: name, IsActive: true}
	}
	return reg
}

func (r *fakeRegistry) All() []model.PanelServer {
	var out []model.PanelServer
	for _, s := range r.servers {
		out = append(out, s)
	}
	return out
}

func (r *fakeRegistry) Get(name string) (model.PanelServer, error) {
	s, ok := r.servers[name]
	if !ok {
		return model.PanelServer{}, fmt.Errorf("unknown server %q", name)
	}
	return s, nil
}

func (r *fakeRegistry) Adapter(name string) (panel.Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown server %q", name)
	}
	return a, nil
}

func (r *fakeRegistry) SetActive(name string, active bool) error {
	s, ok := r.servers[name]
	if !ok {
		return fmt.Errorf("unknown server %q", name)
	}
	s.IsActive = active
	r.servers[name] = s
	return nil
}

func (r *fakeRegistry) Reload() error {
	r.reloads++
	return nil
}

func TestServerList(t *testing.T) {
	h := NewServer(newFakeRegistry("alpha", "bravo"))
	rec := httptest.NewRecorder()

	h.List(rec, newRequest(http.MethodGet, "/servers", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alpha")
	assert.Contains(t, rec.Body.String(), "bravo")
}

func TestServerSetActive(t *testing.T) {
	reg := newFakeRegistry("alpha")
	h := NewServer(reg)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPut, "/servers/alpha/active", map[string]any{"active": false}), "name", "alpha")

	h.SetActive(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	server, err := reg.Get("alpha")
	require.NoError(t, err)
	assert.False(t, server.IsActive)
}

func TestServerSetActive_MissingBody(t *testing.T) {
	h := NewServer(newFakeRegistry("alpha"))
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPut, "/servers/alpha/active", map[string]any{}), "name", "alpha")

	h.SetActive(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerSetActive_UnknownServer(t *testing.T) {
	h := NewServer(newFakeRegistry("alpha"))
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPut, "/servers/ghost/active", map[string]any{"active": true}), "name", "ghost")

	h.SetActive(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerReload(t *testing.T) {
	reg := newFakeRegistry("alpha")
	h := NewServer(reg)
	rec := httptest.NewRecorder()

	h.Reload(rec, newRequest(http.MethodPost, "/servers/reload", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, reg.reloads)
}

func TestServerRestart(t *testing.T) {
	reg := newFakeRegistry("alpha")
	adapter := &restartAdapter{}
	reg.adapters["alpha"] = adapter
	h := NewServer(reg)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/servers/alpha/restart", nil), "name", "alpha")

	h.Restart(rec, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, adapter.called)
}

func TestServerRestart_PanelFailureIsBadGateway(t *testing.T) {
	reg := newFakeRegistry("alpha")
	reg.adapters["alpha"] = &restartAdapter{err: errors.New("restart refused")}
	h := NewServer(reg)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/servers/alpha/restart", nil), "name", "alpha")

	h.Restart(rec, r)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
