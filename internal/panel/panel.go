// Package panel talks to 3x-ui style proxy control panels. One Adapter is
// constructed per configured server; all calls carry bounded timeouts and
// report classified failures (see errors.go) instead of raw transport
// errors.
package panel

import (
	"context"
	"time"
)

// ClientSpec is the identity material pushed to a panel on create.
type ClientSpec struct {
	UUID              string
	Email             string
	Phone             string
	ExpireAt          *time.Time
	IPLimit           int
	TrafficLimitBytes int64
}

// Client is a credential object as reported by a panel.
type Client struct {
	UUID       string
	Email      string
	ExpiryMS   int64
	Enabled    bool
	IPLimit    int
	TotalBytes int64
	Flow       string
}

// Traffic is a client's byte counters on one panel.
type Traffic struct {
	Email     string
	UpBytes   int64
	DownBytes int64
}

// Adapter is the uniform capability set over one panel server.
type Adapter interface {
	// Name returns the configured server name.
	Name() string

	// Authenticate establishes (or refreshes) the panel session. Callers
	// normally never need it: every other method authenticates lazily and
	// renews an expired session once before failing.
	Authenticate(ctx context.Context) error

	// AddClient creates a credential on the configured inbound. Returns
	// ErrAlreadyExists when the panel reports a duplicate email, a
	// KindRejected *Error when the panel refuses for any other reason,
	// and a KindUnreachable *Error on network failure or timeout.
	AddClient(ctx context.Context, spec ClientSpec) error

	// FindClientByUUID and FindClientByEmail search every inbound the
	// panel exposes, not only the configured one. ErrNotFound when absent.
	FindClientByUUID(ctx context.Context, uuid string) (*Client, error)
	FindClientByEmail(ctx context.Context, email string) (*Client, error)

	// DeleteClient removes the credential from every inbound holding it.
	// ErrNotFound when the panel never had it; callers on delete paths
	// treat that as success.
	DeleteClient(ctx context.Context, uuid string) error

	// ListClients returns the full client set of the configured inbound.
	ListClients(ctx context.Context) ([]Client, error)

	// ClientLink builds the connection URI for a client. Host resolution:
	// explicit override, else the inbound listen address, else the
	// configured fallback host; empty and wildcard values are skipped.
	ClientLink(ctx context.Context, email, override string) (string, error)

	// ClientTraffic reads the client's traffic counters.
	ClientTraffic(ctx context.Context, email string) (*Traffic, error)

	// ExtendClient pushes the expiry forward by days: from the current
	// expiry when it is still in the future, from now when it has passed.
	// Returns the old and new expiry in panel milliseconds.
	ExtendClient(ctx context.Context, email string, days int) (oldMS, newMS int64, err error)

	// SetClientEnabled toggles the credential without deleting it.
	SetClientEnabled(ctx context.Context, email string, enabled bool) error

	// RestartProcess reloads the proxy so config changes take effect.
	// Callers treat failure as non-fatal but log it.
	RestartProcess(ctx context.Context) error
}
