package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServers(t *testing.T) {
	data := []byte(`
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
`)
	servers, err := ParseServers(data)
	require.NoError(t, err)
	require.Len(t, servers, 2)

	assert.Equal(t, "alpha", servers[0].Name)
	assert.True(t, servers[0].IsActive)
	assert.Equal(t, "alpha.vpn.example.com", servers[0].ConnectDomain)
	assert.Equal(t, 3, servers[1].InboundID)
	assert.False(t, servers[1].IsActive)
}

func TestParseServers_Empty(t *testing.T) {
	_, err := ParseServers([]byte(`servers: []`))
	assert.ErrorContains(t, err, "no servers")
}

func TestParseServers_DuplicateName(t *testing.T) {
	data := []byte(`
servers:
  - name: alpha
    base_url: https://a.example.com
    username: admin
    password: secret
    inbound_id: 1
  - name: alpha
    base_url: https://b.example.com
    username: admin
    password: secret
    inbound_id: 1
`)
	_, err := ParseServers(data)
	assert.ErrorContains(t, err, "duplicate server name")
}

func TestParseServers_InvalidName(t *testing.T) {
	data := []byte(`
servers:
  - name: Alpha Server
    base_url: https://a.example.com
    username: admin
    password: secret
    inbound_id: 1
`)
	_, err := ParseServers(data)
	assert.Error(t, err)
}

func TestParseServers_MissingCredentials(t *testing.T) {
	data := []byte(`
servers:
  - name: alpha
    base_url: https://a.example.com
    inbound_id: 1
`)
	_, err := ParseServers(data)
	assert.Error(t, err)
}

func TestParseServers_TwoLocals(t *testing.T) {
	data := []byte(`
servers:
  - name: alpha
    base_url: https://a.example.com
    username: admin
    password: secret
    inbound_id: 1
    is_local: true
  - name: bravo
    base_url: https://b.example.com
    username: admin
    password: secret
    inbound_id: 1
    is_local: true
`)
	_, err := ParseServers(data)
	assert.ErrorContains(t, err, "at most one server")
}
