// Package outbox drains the durable retry queue: claiming due operations,
// replaying them through the orchestrator, and applying exponential
// backoff until they converge or exhaust their attempt budget.
package outbox

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/keyfleet/internal/fleet"
	"github.com/edvin/keyfleet/internal/metrics"
	"github.com/edvin/keyfleet/internal/model"
)

const maxBackoff = time.Hour

// Queue is the outbox surface the drainer needs. core.OutboxService
// satisfies it.
type Queue interface {
	ClaimDue(ctx context.Context, limit int) ([]model.PendingOperation, error)
	MarkDone(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, nextAttempt time.Time, lastError string) error
	MarkTerminal(ctx context.Context, id, lastError string) error
	Depth(ctx context.Context) (map[string]int, error)
}

// Alerter raises operator alerts. core.AlertService satisfies it.
type Alerter interface {
	Raise(ctx context.Context, kind, clientUUID, serverName string, detail any) error
}

// Retrier replays one operation. fleet.Orchestrator satisfies it.
type Retrier interface {
	Retry(ctx context.Context, op *model.PendingOperation) error
}

type Config struct {
	PollInterval time.Duration
	BaseBackoff  time.Duration
	BatchSize    int
}

type Drainer struct {
	queue   Queue
	alerts  Alerter
	retrier Retrier
	logger  zerolog.Logger
	cfg     Config
}

func New(queue Queue, alerts Alerter, retrier Retrier, logger zerolog.Logger, cfg Config) *Drainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Drainer{
		queue:   queue,
		alerts:  alerts,
		retrier: retrier,
		logger:  logger.With().Str("component", "outbox").Logger(),
		cfg:     cfg,
	}
}

// Run drains the queue on every tick until the context is cancelled.
func (d *Drainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *Drainer) drainOnce(ctx context.Context) {
	ops, err := d.queue.ClaimDue(ctx, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("claim due operations")
		return
	}
	for i := range ops {
		d.process(ctx, &ops[i])
	}
	d.updateDepth(ctx)
}

func (d *Drainer) process(ctx context.Context, op *model.PendingOperation) {
	err := d.retrier.Retry(ctx, op)
	attempt := op.AttemptCount + 1

	switch {
	case err == nil:
		if markErr := d.queue.MarkDone(ctx, op.ID); markErr != nil {
			d.logger.Error().Err(markErr).Str("operation", op.ID).Msg("mark operation done")
			return
		}
		metrics.OutboxAttempts.WithLabelValues(op.Kind, "done").Inc()
		d.logger.Info().Str("operation", op.ID).Str("kind", op.Kind).
			Int("attempt", attempt).Msg("operation converged")

	case fleet.IsTerminal(err) || attempt >= op.MaxAttempts:
		if markErr := d.queue.MarkTerminal(ctx, op.ID, err.Error()); markErr != nil {
			d.logger.Error().Err(markErr).Str("operation", op.ID).Msg("mark operation terminal")
			return
		}
		detail := map[string]any{
			"operation_id": op.ID,
			"kind":         op.Kind,
			"attempts":     attempt,
			"last_error":   err.Error(),
		}
		if alertErr := d.alerts.Raise(ctx, model.AlertRetryExhausted, op.ClientUUID, "", detail); alertErr != nil {
			d.logger.Error().Err(alertErr).Str("operation", op.ID).Msg("raise retry alert")
		}
		metrics.OutboxAttempts.WithLabelValues(op.Kind, "terminal").Inc()
		d.logger.Error().Err(err).Str("operation", op.ID).Str("kind", op.Kind).
			Int("attempt", attempt).Msg("operation failed terminally")

	default:
		next := time.Now().Add(d.backoff(attempt))
		if markErr := d.queue.Reschedule(ctx, op.ID, next, err.Error()); markErr != nil {
			d.logger.Error().Err(markErr).Str("operation", op.ID).Msg("reschedule operation")
			return
		}
		metrics.OutboxAttempts.WithLabelValues(op.Kind, "rescheduled").Inc()
		d.logger.Warn().Err(err).Str("operation", op.ID).Str("kind", op.Kind).
			Int("attempt", attempt).Time("next_attempt", next).Msg("operation rescheduled")
	}
}

// backoff is base * 2^(attempt-1), capped, with up to 20% jitter so a
// burst of failures does not come due in lockstep.
func (d *Drainer) backoff(attempt int) time.Duration {
	backoff := d.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			backoff = maxBackoff
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/5 + 1))
	return backoff + jitter
}

func (d *Drainer) updateDepth(ctx context.Context) {
	counts, err := d.queue.Depth(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("read outbox depth")
		return
	}
	for _, status := range []string{
		model.OperationQueued, model.OperationInProgress,
		model.OperationDone, model.OperationFailedTerminal,
	} {
		metrics.OutboxDepth.WithLabelValues(status).Set(float64(counts[status]))
	}
}
