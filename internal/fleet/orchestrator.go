// Package fleet coordinates key lifecycle operations across the panel
// fleet: synchronous fan-out with bounded timeouts, compensation on
// partial failure, and hand-off to the durable retry queue when remote
// state could not be converged immediately.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/keyfleet/internal/metrics"
	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
	"github.com/edvin/keyfleet/internal/platform"
)

// ErrDuplicateEmail is returned when a create names an email the store
// has already issued. Emails are never reissued, deleted keys included.
var ErrDuplicateEmail = errors.New("email already issued")

// AdapterSource resolves panel adapters. Satisfied by registry.Registry.
type AdapterSource interface {
	ActiveAdapters() []panel.Adapter
	Adapter(name string) (panel.Adapter, error)
}

type Config struct {
	// FanoutTimeout bounds each per-server panel call. A server that does
	// not answer within it counts as unreachable.
	FanoutTimeout time.Duration
	// MaxAttempts is the attempt budget given to queued operations.
	MaxAttempts int
}

type Orchestrator struct {
	store    Store
	adapters AdapterSource
	logger   zerolog.Logger
	cfg      Config
	locks    keyLocks
}

func New(store Store, adapters AdapterSource, logger zerolog.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    store,
		adapters: adapters,
		logger:   logger.With().Str("component", "fleet").Logger(),
		cfg:      cfg,
	}
}

// CreateRequest is the caller's intent for a new key. Email is generated
// when empty. Server pins the key to one named server instead of the
// whole active fleet.
type CreateRequest struct {
	Email             string
	Phone             string
	ExpireAt          *time.Time
	IPLimit           int
	TrafficLimitBytes int64
	Server            string
	Actor             string
}

// CreateKey provisions a key on every active server. Semantics:
//
//   - every server confirms: the client row, memberships and audit event
//     are committed in one transaction, full_success;
//   - any server explicitly rejects: confirmed servers are compensated
//     with deletes and nothing is recorded, failed;
//   - only transient failures: confirmed servers are compensated and one
//     create operation covering the full target set goes to the retry
//     queue, partial_queued.
//
// In no case does a client row exist without the key being live on every
// recorded server. A caller-supplied email the store has already issued
// is refused with ErrDuplicateEmail before any panel is touched.
func (o *Orchestrator) CreateKey(ctx context.Context, req CreateRequest) (*Result, error) {
	email := req.Email
	if email == "" {
		email = platform.NewName("k-")
	}
	clientUUID := platform.NewID()

	o.locks.lock(email)
	defer o.locks.unlock(email)

	if req.Email != "" {
		existing, err := o.store.GetClientByEmail(ctx, req.Email)
		if err != nil {
			return nil, fmt.Errorf("create key: %w", err)
		}
		if existing != nil {
			return nil, fmt.Errorf("create key %q: %w", req.Email, ErrDuplicateEmail)
		}
	}

	var adapters []panel.Adapter
	if req.Server != "" {
		a, err := o.adapters.Adapter(req.Server)
		if err != nil {
			return nil, fmt.Errorf("create key: %w", err)
		}
		adapters = []panel.Adapter{a}
	} else {
		adapters = o.adapters.ActiveAdapters()
		if len(adapters) == 0 {
			return nil, errors.New("create key: no active servers")
		}
	}

	spec := panel.ClientSpec{
		UUID:              clientUUID,
		Email:             email,
		Phone:             req.Phone,
		ExpireAt:          req.ExpireAt,
		IPLimit:           req.IPLimit,
		TrafficLimitBytes: req.TrafficLimitBytes,
	}
	outcomes := o.fanout(ctx, adapters, func(ctx context.Context, a panel.Adapter) error {
		err := a.AddClient(ctx, spec)
		if errors.Is(err, panel.ErrAlreadyExists) {
			// replay of an earlier partial attempt for this identity
			return nil
		}
		return err
	})

	result := &Result{ClientUUID: clientUUID, Email: email, Outcomes: outcomes}

	switch {
	case allOK(outcomes):
		client := &model.Client{
			UUID:              clientUUID,
			Email:             email,
			Phone:             req.Phone,
			ExpireAt:          req.ExpireAt,
			IPLimit:           req.IPLimit,
			TrafficLimitBytes: req.TrafficLimitBytes,
		}
		if err := o.store.CommitCreate(ctx, client, serverNames(adapters), req.Actor); err != nil {
			// the panels hold live credentials the store refused to
			// record; undo them before surfacing the failure
			o.compensate(ctx, clientUUID, email, adapters, outcomes)
			return nil, fmt.Errorf("commit create: %w", err)
		}
		result.Status = StatusFullSuccess

	case anyRejected(outcomes):
		// explicit refusal is terminal: undo and report
		o.compensate(ctx, clientUUID, email, adapters, outcomes)
		result.Status = StatusFailed

	default:
		// transient failures only: undo what landed and let the retry
		// queue converge the full target set later
		o.compensate(ctx, clientUUID, email, adapters, outcomes)

		payload, err := json.Marshal(model.CreatePayload{
			Email:             email,
			Phone:             req.Phone,
			ExpireAt:          req.ExpireAt,
			IPLimit:           req.IPLimit,
			TrafficLimitBytes: req.TrafficLimitBytes,
			Actor:             req.Actor,
		})
		if err != nil {
			return nil, fmt.Errorf("encode create payload: %w", err)
		}
		op := &model.PendingOperation{
			Kind:        model.OperationCreate,
			ClientUUID:  clientUUID,
			Servers:     serverNames(adapters),
			Payload:     payload,
			MaxAttempts: o.cfg.MaxAttempts,
		}
		if err := o.store.EnqueueOperation(ctx, op); err != nil {
			return nil, fmt.Errorf("enqueue create retry: %w", err)
		}
		result.Status = StatusPartialQueued
		result.QueuedOperationID = op.ID
	}

	o.observe("create", result)
	return result, nil
}

// DeleteKey removes a key from every server that holds it. A server that
// never had the key counts as success; servers that cannot be reached get
// a queued delete operation. The client row and its deleted audit event
// are written only once every membership is cleared, so an incompletely
// deleted key stays visible to operators with its surviving memberships.
func (o *Orchestrator) DeleteKey(ctx context.Context, clientUUID, actor string) (*Result, error) {
	client, err := o.store.GetClient(ctx, clientUUID)
	if err != nil {
		return nil, fmt.Errorf("delete key: %w", err)
	}

	o.locks.lock(client.Email)
	defer o.locks.unlock(client.Email)

	servers, err := o.store.ActiveServersFor(ctx, clientUUID)
	if err != nil {
		return nil, fmt.Errorf("delete key: %w", err)
	}

	result := &Result{ClientUUID: clientUUID, Email: client.Email}

	if len(servers) == 0 {
		if err := o.store.CommitDelete(ctx, clientUUID, actor, ""); err != nil {
			return nil, err
		}
		result.Status = StatusFullSuccess
		o.observe("delete", result)
		return result, nil
	}

	adapters, missing := o.resolveAdapters(servers)
	for _, name := range missing {
		// the server left the fleet config; nothing remote to delete
		o.logger.Warn().Str("server", name).Str("client", clientUUID).
			Msg("membership references server missing from config")
		result.Outcomes = append(result.Outcomes, ServerOutcome{Server: name, OK: true})
	}

	outcomes := o.fanout(ctx, adapters, func(ctx context.Context, a panel.Adapter) error {
		err := a.DeleteClient(ctx, clientUUID)
		if errors.Is(err, panel.ErrNotFound) {
			// deleting an absent key is success
			return nil
		}
		return err
	})
	result.Outcomes = append(result.Outcomes, outcomes...)

	if allOK(result.Outcomes) {
		if err := o.store.CommitDelete(ctx, clientUUID, actor, ""); err != nil {
			return nil, err
		}
		result.Status = StatusFullSuccess
		o.observe("delete", result)
		return result, nil
	}

	// mark what succeeded and queue the rest; the client row keeps its
	// current status until the last membership clears
	for _, name := range succeededServers(result.Outcomes) {
		if err := o.store.SetMembershipStatus(ctx, clientUUID, name, model.MembershipDeleted); err != nil {
			o.logger.Error().Err(err).Str("server", name).Msg("mark membership deleted")
		}
	}

	failed := failedServers(result.Outcomes)
	payload, err := json.Marshal(model.DeletePayload{Actor: actor})
	if err != nil {
		return nil, fmt.Errorf("encode delete payload: %w", err)
	}
	op := &model.PendingOperation{
		Kind:        model.OperationDelete,
		ClientUUID:  clientUUID,
		Servers:     failed,
		Payload:     payload,
		MaxAttempts: o.cfg.MaxAttempts,
	}
	if err := o.store.EnqueueOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("enqueue delete retry: %w", err)
	}

	result.Status = StatusPartialQueued
	result.QueuedOperationID = op.ID
	o.observe("delete", result)
	return result, nil
}

// fanout runs one panel call against every adapter concurrently, each
// under its own timeout, and waits for all of them.
func (o *Orchestrator) fanout(ctx context.Context, adapters []panel.Adapter, call func(context.Context, panel.Adapter) error) []ServerOutcome {
	outcomes := make([]ServerOutcome, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, o.cfg.FanoutTimeout)
			defer cancel()

			err := call(callCtx, a)
			out := ServerOutcome{Server: a.Name(), OK: err == nil}
			if err != nil {
				out.Error = err.Error()
				out.Transient = panel.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
				metrics.PanelFailures.WithLabelValues(a.Name(), strconv.FormatBool(out.Transient)).Inc()
				o.logger.Warn().Err(err).Str("server", a.Name()).Bool("transient", out.Transient).
					Msg("panel call failed")
			}
			outcomes[i] = out
			return nil
		})
	}
	g.Wait()
	return outcomes
}

// compensate deletes the key from every server that confirmed a create
// that is being abandoned. A failed compensation is alerted: until an
// operator or reconciliation cleans it up, that server carries an orphan.
func (o *Orchestrator) compensate(ctx context.Context, clientUUID, email string, adapters []panel.Adapter, outcomes []ServerOutcome) {
	byName := make(map[string]panel.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	for _, out := range outcomes {
		if !out.OK {
			continue
		}
		a := byName[out.Server]
		compCtx, cancel := context.WithTimeout(ctx, o.cfg.FanoutTimeout)
		err := a.DeleteClient(compCtx, clientUUID)
		cancel()
		if err != nil && !errors.Is(err, panel.ErrNotFound) {
			o.logger.Error().Err(err).Str("server", out.Server).Str("client", clientUUID).
				Msg("compensating delete failed")
			detail := map[string]string{"email": email, "error": err.Error()}
			if alertErr := o.store.RaiseAlert(ctx, model.AlertCompensationFailed, clientUUID, out.Server, detail); alertErr != nil {
				o.logger.Error().Err(alertErr).Msg("raise compensation alert")
			}
		}
	}
}

// resolveAdapters maps server names to adapters, separating names no
// longer present in the fleet config.
func (o *Orchestrator) resolveAdapters(names []string) ([]panel.Adapter, []string) {
	var adapters []panel.Adapter
	var missing []string
	for _, name := range names {
		a, err := o.adapters.Adapter(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		adapters = append(adapters, a)
	}
	return adapters, missing
}

func (o *Orchestrator) observe(operation string, result *Result) {
	metrics.FanoutResults.WithLabelValues(operation, result.Status).Inc()
	evt := o.logger.Info()
	if result.Status == StatusFailed {
		evt = o.logger.Error()
	}
	evt.Str("operation", operation).
		Str("client", result.ClientUUID).
		Str("status", result.Status).
		Int("servers", len(result.Outcomes)).
		Msg("fan-out finished")
}

func serverNames(adapters []panel.Adapter) []string {
	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = a.Name()
	}
	return names
}

func summarizeFailures(outcomes []ServerOutcome) string {
	var parts []string
	for _, o := range outcomes {
		if !o.OK {
			parts = append(parts, o.Server+": "+o.Error)
		}
	}
	return strings.Join(parts, "; ")
}
