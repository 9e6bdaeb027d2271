package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
)

// Retry replays one queued operation. A nil return means the operation
// converged and can be marked done. A Terminal error means it must never
// be attempted again; any other error asks the drainer to reschedule.
func (o *Orchestrator) Retry(ctx context.Context, op *model.PendingOperation) error {
	switch op.Kind {
	case model.OperationCreate:
		return o.retryCreate(ctx, op)
	case model.OperationDelete:
		return o.retryDelete(ctx, op)
	default:
		return Terminal(fmt.Errorf("unknown operation kind %q", op.Kind))
	}
}

func (o *Orchestrator) retryCreate(ctx context.Context, op *model.PendingOperation) error {
	var p model.CreatePayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return Terminal(fmt.Errorf("decode create payload: %w", err))
	}

	o.locks.lock(p.Email)
	defer o.locks.unlock(p.Email)

	adapters, missing := o.resolveAdapters(op.Servers)
	for _, name := range missing {
		o.logger.Warn().Str("server", name).Str("operation", op.ID).
			Msg("retry target missing from config, skipping")
	}
	if len(adapters) == 0 {
		return Terminal(errors.New("no retry targets remain in config"))
	}

	spec := panel.ClientSpec{
		UUID:              op.ClientUUID,
		Email:             p.Email,
		Phone:             p.Phone,
		ExpireAt:          p.ExpireAt,
		IPLimit:           p.IPLimit,
		TrafficLimitBytes: p.TrafficLimitBytes,
	}
	outcomes := o.fanout(ctx, adapters, func(ctx context.Context, a panel.Adapter) error {
		err := a.AddClient(ctx, spec)
		if errors.Is(err, panel.ErrAlreadyExists) {
			// landed on a previous attempt
			return nil
		}
		return err
	})

	if allOK(outcomes) {
		client := &model.Client{
			UUID:              op.ClientUUID,
			Email:             p.Email,
			Phone:             p.Phone,
			ExpireAt:          p.ExpireAt,
			IPLimit:           p.IPLimit,
			TrafficLimitBytes: p.TrafficLimitBytes,
		}
		if err := o.store.CommitCreate(ctx, client, serverNames(adapters), p.Actor); err != nil {
			return fmt.Errorf("commit retried create: %w", err)
		}
		return nil
	}

	if anyRejected(outcomes) {
		// a panel said no; undo and park the operation
		o.compensate(ctx, op.ClientUUID, p.Email, adapters, outcomes)
		return Terminal(fmt.Errorf("create rejected: %s", summarizeFailures(outcomes)))
	}

	// transient failures: leave what landed in place, the next attempt
	// treats it as already existing
	return fmt.Errorf("create incomplete: %s", summarizeFailures(outcomes))
}

func (o *Orchestrator) retryDelete(ctx context.Context, op *model.PendingOperation) error {
	var p model.DeletePayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return Terminal(fmt.Errorf("decode delete payload: %w", err))
	}

	// serialize with synchronous operations on the same key; fall back
	// to the UUID when the client row is already gone
	lockKey := op.ClientUUID
	if client, err := o.store.GetClient(ctx, op.ClientUUID); err == nil {
		lockKey = client.Email
	}
	o.locks.lock(lockKey)
	defer o.locks.unlock(lockKey)

	adapters, missing := o.resolveAdapters(op.Servers)
	for _, name := range missing {
		o.logger.Warn().Str("server", name).Str("operation", op.ID).
			Msg("retry target missing from config, skipping")
	}

	outcomes := o.fanout(ctx, adapters, func(ctx context.Context, a panel.Adapter) error {
		err := a.DeleteClient(ctx, op.ClientUUID)
		if errors.Is(err, panel.ErrNotFound) {
			return nil
		}
		return err
	})

	for _, name := range succeededServers(outcomes) {
		if err := o.store.SetMembershipStatus(ctx, op.ClientUUID, name, model.MembershipDeleted); err != nil {
			o.logger.Error().Err(err).Str("server", name).Msg("mark membership deleted")
		}
	}

	if !allOK(outcomes) {
		return fmt.Errorf("delete incomplete: %s", summarizeFailures(outcomes))
	}

	if err := o.store.CommitDelete(ctx, op.ClientUUID, p.Actor, "completed by retry"); err != nil {
		return fmt.Errorf("commit retried delete: %w", err)
	}
	return nil
}
