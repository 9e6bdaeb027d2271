// Package reconcile periodically compares the record store against what
// each panel server actually holds and repairs the membership table:
// credentials that vanished from a panel are flagged, credentials present
// on a panel for a known client are adopted, and traffic counters are
// snapshotted along the way. Panels are never mutated here.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/keyfleet/internal/core"
	"github.com/edvin/keyfleet/internal/metrics"
	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
)

// Drift kinds reported per server.
const (
	driftLost    = "lost"    // recorded as active, absent from the panel
	driftAdopted = "adopted" // on the panel, known client, no membership row
	driftUnknown = "unknown" // on the panel, client we have never heard of
	driftStale   = "stale"   // on the panel, but the client is deleted here
)

// ErrUnknownClient is returned by ReconcileClient for a UUID the store has
// never seen.
var ErrUnknownClient = errors.New("unknown client")

// Report counts the drift found by one reconciliation pass. A second pass
// over an unchanged fleet yields all zeros.
type Report struct {
	Lost         int      `json:"lost"`
	Adopted      int      `json:"adopted"`
	Unknown      int      `json:"unknown"`
	Stale        int      `json:"stale"`
	Expired      int      `json:"expired"`
	ServerErrors []string `json:"server_errors,omitempty"`
}

func (rep *Report) count(kind string) {
	switch kind {
	case driftLost:
		rep.Lost++
	case driftAdopted:
		rep.Adopted++
	case driftUnknown:
		rep.Unknown++
	case driftStale:
		rep.Stale++
	}
}

// Store is the record-store surface a reconciliation pass needs.
type Store interface {
	ActiveByServer(ctx context.Context, serverName string) ([]model.ServerMembership, error)
	// GetClient returns (nil, nil) when the UUID is not in the store.
	GetClient(ctx context.Context, uuid string) (*model.Client, error)
	HasPendingFor(ctx context.Context, clientUUID string) (bool, error)
	ActiveServersFor(ctx context.Context, clientUUID string) ([]string, error)
	UpsertMembership(ctx context.Context, clientUUID, serverName, status string) error
	SetMembershipStatus(ctx context.Context, clientUUID, serverName, status string) error
	RecordEvent(ctx context.Context, ev *model.LifecycleEvent) error
	RaiseAlert(ctx context.Context, kind, clientUUID, serverName string, detail any) error
	RecordTraffic(ctx context.Context, snap *model.TrafficSnapshot) error
	ExpireOverdueClients(ctx context.Context) ([]string, error)
}

// Servers resolves the fleet. registry.Registry satisfies it. All servers
// are reconciled, drained ones included: an inactive server still holds
// credentials until deletes reach it.
type Servers interface {
	All() []model.PanelServer
	Adapter(name string) (panel.Adapter, error)
}

type Config struct {
	Interval      time.Duration
	ServerTimeout time.Duration
}

type Reconciler struct {
	store   Store
	servers Servers
	logger  zerolog.Logger
	cfg     Config
}

func New(store Store, servers Servers, logger zerolog.Logger, cfg Config) *Reconciler {
	if cfg.ServerTimeout <= 0 {
		cfg.ServerTimeout = 30 * time.Second
	}
	return &Reconciler{
		store:   store,
		servers: servers,
		logger:  logger.With().Str("component", "reconcile").Logger(),
		cfg:     cfg,
	}
}

// Run reconciles on every tick until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one full pass: the expiry sweep, then one panel listing
// per server. A pass is idempotent; running it twice against an unchanged
// fleet repairs nothing new.
func (r *Reconciler) RunOnce(ctx context.Context) *Report {
	start := time.Now()
	rep := &Report{}
	rep.Expired = r.sweepExpired(ctx)

	for _, server := range r.servers.All() {
		serverCtx, cancel := context.WithTimeout(ctx, r.cfg.ServerTimeout)
		err := r.reconcileServer(serverCtx, server, rep)
		cancel()
		if err != nil {
			r.logger.Error().Err(err).Str("server", server.Name).Msg("reconcile server")
			rep.ServerErrors = append(rep.ServerErrors, server.Name+": "+err.Error())
		}
	}

	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	r.logger.Info().Dur("elapsed", time.Since(start)).
		Int("lost", rep.Lost).Int("adopted", rep.Adopted).
		Int("unknown", rep.Unknown).Int("stale", rep.Stale).
		Msg("reconciliation pass finished")
	return rep
}

// ReconcileClient checks a single client's presence on every server and
// repairs its membership rows, without listing whole panels.
func (r *Reconciler) ReconcileClient(ctx context.Context, clientUUID string) (*Report, error) {
	client, err := r.store.GetClient(ctx, clientUUID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrUnknownClient
	}

	active, err := r.store.ActiveServersFor(ctx, clientUUID)
	if err != nil {
		return nil, err
	}
	activeSet := make(map[string]struct{}, len(active))
	for _, name := range active {
		activeSet[name] = struct{}{}
	}

	rep := &Report{}
	for _, server := range r.servers.All() {
		adapter, err := r.servers.Adapter(server.Name)
		if err != nil {
			rep.ServerErrors = append(rep.ServerErrors, server.Name+": "+err.Error())
			continue
		}
		serverCtx, cancel := context.WithTimeout(ctx, r.cfg.ServerTimeout)
		rc, err := adapter.FindClientByUUID(serverCtx, clientUUID)
		cancel()
		_, recorded := activeSet[server.Name]

		switch {
		case errors.Is(err, panel.ErrNotFound):
			if recorded {
				rep.count(r.flagLost(ctx, model.ServerMembership{ClientUUID: clientUUID, ServerName: server.Name}))
			}
		case err != nil:
			rep.ServerErrors = append(rep.ServerErrors, server.Name+": "+err.Error())
		case recorded:
			r.captureTraffic(ctx, adapter, clientUUID, server.Name, rc.Email)
		default:
			rep.count(r.adoptOrReport(ctx, adapter, server.Name, clientUUID, *rc))
		}
	}
	return rep, nil
}

// sweepExpired flips overdue active clients to expired. Credentials stay
// on the panels; the panels enforce their own expiry timestamps.
func (r *Reconciler) sweepExpired(ctx context.Context) int {
	uuids, err := r.store.ExpireOverdueClients(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("expire overdue clients")
		return 0
	}
	for _, uuid := range uuids {
		ev := &model.LifecycleEvent{
			ClientUUID: uuid,
			Action:     model.ActionReconciled,
			Actor:      "reconciler",
			Note:       "expiry passed, marked expired",
		}
		if err := r.store.RecordEvent(ctx, ev); err != nil {
			r.logger.Error().Err(err).Str("client", uuid).Msg("record expiry event")
		}
	}
	if len(uuids) > 0 {
		r.logger.Info().Int("count", len(uuids)).Msg("expired overdue clients")
	}
	return len(uuids)
}

func (r *Reconciler) reconcileServer(ctx context.Context, server model.PanelServer, rep *Report) error {
	adapter, err := r.servers.Adapter(server.Name)
	if err != nil {
		return err
	}

	// One listing per server per pass, whatever the fleet size.
	remote, err := adapter.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("list clients on %s: %w", server.Name, err)
	}
	remoteByUUID := make(map[string]panel.Client, len(remote))
	for _, c := range remote {
		remoteByUUID[c.UUID] = c
	}

	recorded, err := r.store.ActiveByServer(ctx, server.Name)
	if err != nil {
		return err
	}
	recordedSet := make(map[string]struct{}, len(recorded))
	for _, m := range recorded {
		recordedSet[m.ClientUUID] = struct{}{}
		if rc, ok := remoteByUUID[m.ClientUUID]; ok {
			r.captureTraffic(ctx, adapter, m.ClientUUID, server.Name, rc.Email)
			continue
		}
		rep.count(r.flagLost(ctx, m))
	}

	for uuid, rc := range remoteByUUID {
		if _, ok := recordedSet[uuid]; ok {
			continue
		}
		rep.count(r.adoptOrReport(ctx, adapter, server.Name, uuid, rc))
	}
	return nil
}

// flagLost handles a membership whose credential is gone from the panel:
// the store's belief catches up with the panel, the row moves to deleted
// and operators are alerted. The key itself stays untouched; recreating
// credentials is an operator decision.
func (r *Reconciler) flagLost(ctx context.Context, m model.ServerMembership) string {
	if r.skipPending(ctx, m.ClientUUID, m.ServerName) {
		return ""
	}
	if err := r.store.SetMembershipStatus(ctx, m.ClientUUID, m.ServerName, model.MembershipDeleted); err != nil {
		r.logger.Error().Err(err).Str("client", m.ClientUUID).Str("server", m.ServerName).Msg("flag lost membership")
		return ""
	}
	detail := map[string]any{"kind": driftLost}
	if err := r.store.RaiseAlert(ctx, model.AlertReconcileDrift, m.ClientUUID, m.ServerName, detail); err != nil {
		r.logger.Error().Err(err).Str("client", m.ClientUUID).Msg("raise drift alert")
	}
	ev := &model.LifecycleEvent{
		ClientUUID: m.ClientUUID,
		Action:     model.ActionReconciled,
		Actor:      "reconciler",
		Note:       fmt.Sprintf("credential lost on %s", m.ServerName),
	}
	if err := r.store.RecordEvent(ctx, ev); err != nil {
		r.logger.Error().Err(err).Str("client", m.ClientUUID).Msg("record drift event")
	}
	metrics.ReconcileDrift.WithLabelValues(m.ServerName, driftLost).Inc()
	r.logger.Warn().Str("client", m.ClientUUID).Str("server", m.ServerName).Msg("credential lost on panel")
	return driftLost
}

// adoptOrReport handles a panel credential with no active membership row.
// Known active clients are adopted; anything else is only reported, never
// deleted from the panel.
func (r *Reconciler) adoptOrReport(ctx context.Context, adapter panel.Adapter, serverName, uuid string, rc panel.Client) string {
	client, err := r.store.GetClient(ctx, uuid)
	if err != nil {
		r.logger.Error().Err(err).Str("client", uuid).Msg("look up panel client")
		return ""
	}
	if client == nil {
		metrics.ReconcileDrift.WithLabelValues(serverName, driftUnknown).Inc()
		r.logger.Warn().Str("uuid", uuid).Str("email", rc.Email).Str("server", serverName).
			Msg("unknown credential on panel")
		return driftUnknown
	}
	if r.skipPending(ctx, uuid, serverName) {
		return ""
	}
	if client.Status == model.StatusDeleted {
		detail := map[string]any{"kind": driftStale, "email": rc.Email}
		if err := r.store.RaiseAlert(ctx, model.AlertReconcileDrift, uuid, serverName, detail); err != nil {
			r.logger.Error().Err(err).Str("client", uuid).Msg("raise drift alert")
		}
		metrics.ReconcileDrift.WithLabelValues(serverName, driftStale).Inc()
		r.logger.Warn().Str("client", uuid).Str("server", serverName).
			Msg("deleted client still present on panel")
		return driftStale
	}

	if err := r.store.UpsertMembership(ctx, uuid, serverName, model.MembershipActive); err != nil {
		r.logger.Error().Err(err).Str("client", uuid).Str("server", serverName).Msg("adopt membership")
		return ""
	}
	ev := &model.LifecycleEvent{
		ClientUUID: uuid,
		Action:     model.ActionReconciled,
		Actor:      "reconciler",
		Note:       fmt.Sprintf("adopted credential on %s", serverName),
	}
	if err := r.store.RecordEvent(ctx, ev); err != nil {
		r.logger.Error().Err(err).Str("client", uuid).Msg("record adoption event")
	}
	metrics.ReconcileDrift.WithLabelValues(serverName, driftAdopted).Inc()
	r.logger.Info().Str("client", uuid).Str("server", serverName).Msg("adopted credential")
	r.captureTraffic(ctx, adapter, uuid, serverName, rc.Email)
	return driftAdopted
}

// skipPending reports whether the client has an operation in the retry
// queue. The queue will settle such clients; repairing them here would
// race it.
func (r *Reconciler) skipPending(ctx context.Context, clientUUID, serverName string) bool {
	pending, err := r.store.HasPendingFor(ctx, clientUUID)
	if err != nil {
		r.logger.Error().Err(err).Str("client", clientUUID).Msg("check pending operations")
		return true
	}
	if pending {
		r.logger.Debug().Str("client", clientUUID).Str("server", serverName).
			Msg("skipping client with pending operation")
	}
	return pending
}

// captureTraffic snapshots the client's counters opportunistically.
// Failures are logged and dropped; traffic is best effort.
func (r *Reconciler) captureTraffic(ctx context.Context, adapter panel.Adapter, clientUUID, serverName, email string) {
	t, err := adapter.ClientTraffic(ctx, email)
	if err != nil {
		r.logger.Debug().Err(err).Str("email", email).Str("server", serverName).Msg("read client traffic")
		return
	}
	snap := &model.TrafficSnapshot{
		ClientUUID: clientUUID,
		ServerName: serverName,
		UpBytes:    t.UpBytes,
		DownBytes:  t.DownBytes,
	}
	if err := r.store.RecordTraffic(ctx, snap); err != nil {
		r.logger.Error().Err(err).Str("client", clientUUID).Msg("record traffic snapshot")
	}
}

// NewStore adapts the core services to the reconciliation surface.
func NewStore(s *core.Services) Store {
	return &coreStore{s: s}
}

type coreStore struct {
	s *core.Services
}

func (c *coreStore) ActiveByServer(ctx context.Context, serverName string) ([]model.ServerMembership, error) {
	return c.s.Membership.ActiveByServer(ctx, serverName)
}

func (c *coreStore) GetClient(ctx context.Context, uuid string) (*model.Client, error) {
	client, err := c.s.Client.GetByUUID(ctx, uuid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return client, err
}

func (c *coreStore) HasPendingFor(ctx context.Context, clientUUID string) (bool, error) {
	return c.s.Outbox.HasPendingFor(ctx, clientUUID)
}

func (c *coreStore) ActiveServersFor(ctx context.Context, clientUUID string) ([]string, error) {
	return c.s.Membership.ActiveServersFor(ctx, clientUUID)
}

func (c *coreStore) UpsertMembership(ctx context.Context, clientUUID, serverName, status string) error {
	return c.s.Membership.Upsert(ctx, clientUUID, serverName, status)
}

func (c *coreStore) SetMembershipStatus(ctx context.Context, clientUUID, serverName, status string) error {
	return c.s.Membership.SetStatus(ctx, clientUUID, serverName, status)
}

func (c *coreStore) RecordEvent(ctx context.Context, ev *model.LifecycleEvent) error {
	return c.s.Lifecycle.Record(ctx, ev)
}

func (c *coreStore) RaiseAlert(ctx context.Context, kind, clientUUID, serverName string, detail any) error {
	return c.s.Alert.Raise(ctx, kind, clientUUID, serverName, detail)
}

func (c *coreStore) RecordTraffic(ctx context.Context, snap *model.TrafficSnapshot) error {
	return c.s.Traffic.Record(ctx, snap)
}

func (c *coreStore) ExpireOverdueClients(ctx context.Context) ([]string, error) {
	return c.s.Client.ExpireOverdue(ctx)
}
