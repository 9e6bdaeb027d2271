package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
)

const fleetYAML = `
servers:
  - name: alpha
    base_url: https://alpha.example.com:2053
    username: admin
    password: secret
    inbound_id: 1
    is_active: true
    connect_domain: alpha.vpn.example.com
  - name: bravo
    base_url: https://bravo.example.com:2053
    username: admin
    password: secret
    inbound_id: 3
    is_active: true
  - name: drained
    base_url: https://drained.example.com:2053
    username: admin
    password: secret
    inbound_id: 1
    is_active: false
`

type nopAdapter struct {
	panel.Adapter
	name string
}

func (a nopAdapter) Name() string { return a.name }

func writeFleet(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(writeFleet(t, fleetYAML), func(s model.PanelServer) panel.Adapter {
		return nopAdapter{name: s.Name}
	})
	require.NoError(t, err)
	return r
}

func TestActiveSet(t *testing.T) {
	r := newTestRegistry(t)

	active := r.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "alpha", active[0].Name)
	assert.Equal(t, "bravo", active[1].Name)

	assert.Len(t, r.All(), 3)

	adapters := r.ActiveAdapters()
	require.Len(t, adapters, 2)
	assert.Equal(t, "alpha", adapters[0].Name())
}

func TestInactiveServerStillResolves(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Adapter("drained")
	require.NoError(t, err)
	assert.Equal(t, "drained", a.Name())

	s, err := r.Get("drained")
	require.NoError(t, err)
	assert.False(t, s.IsActive)
}

func TestUnknownServer(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Adapter("charlie")
	assert.ErrorIs(t, err, ErrUnknownServer)
	_, err = r.Get("charlie")
	assert.ErrorIs(t, err, ErrUnknownServer)
	assert.ErrorIs(t, r.SetActive("charlie", true), ErrUnknownServer)
}

func TestSetActive(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.SetActive("alpha", false))
	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "bravo", active[0].Name)

	require.NoError(t, r.SetActive("drained", true))
	assert.Len(t, r.Active(), 2)
}

func TestNewRejectsBrokenFleetFile(t *testing.T) {
	path := writeFleet(t, "servers:\n  - name: UPPER\n    base_url: not-a-url\n")
	_, err := New(path, func(s model.PanelServer) panel.Adapter { return nopAdapter{name: s.Name} })
	require.Error(t, err)
}
