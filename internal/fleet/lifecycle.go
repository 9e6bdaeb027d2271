package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
)

// RenewKey pushes the key's expiry forward by days on every server
// holding it. The record store is only updated when every server
// confirmed; a partial renew reports the failing servers and leaves the
// store untouched so the operation can be repeated.
func (o *Orchestrator) RenewKey(ctx context.Context, clientUUID string, days int, actor string) (*Result, error) {
	if days <= 0 {
		return nil, fmt.Errorf("renew key: days must be positive, got %d", days)
	}
	client, err := o.store.GetClient(ctx, clientUUID)
	if err != nil {
		return nil, fmt.Errorf("renew key: %w", err)
	}

	o.locks.lock(client.Email)
	defer o.locks.unlock(client.Email)

	adapters, err := o.membershipAdapters(ctx, clientUUID)
	if err != nil {
		return nil, fmt.Errorf("renew key: %w", err)
	}

	outcomes := o.fanout(ctx, adapters, func(ctx context.Context, a panel.Adapter) error {
		_, _, err := a.ExtendClient(ctx, client.Email, days)
		return err
	})

	result := &Result{ClientUUID: clientUUID, Email: client.Email, Outcomes: outcomes}
	if !allOK(outcomes) {
		result.Status = StatusPartial
		o.observe("renew", result)
		return result, nil
	}

	// extend from the current expiry while it is in the future, from now
	// once it has passed; a nil expiry stays nil (never expires)
	oldExpire := client.ExpireAt
	if oldExpire != nil {
		base := time.Now()
		if oldExpire.After(base) {
			base = *oldExpire
		}
		newExpire := base.Add(time.Duration(days) * 24 * time.Hour)
		if err := o.store.UpdateClientExpiry(ctx, clientUUID, &newExpire); err != nil {
			return nil, fmt.Errorf("renew key: %w", err)
		}
		if client.Status == model.StatusExpired {
			if err := o.store.UpdateClientStatus(ctx, clientUUID, model.StatusActive); err != nil {
				return nil, fmt.Errorf("renew key: %w", err)
			}
		}
		event := &model.LifecycleEvent{
			ClientUUID:  clientUUID,
			Action:      model.ActionExtended,
			Actor:       actor,
			OldExpireAt: oldExpire,
			NewExpireAt: &newExpire,
		}
		if err := o.store.RecordEvent(ctx, event); err != nil {
			o.logger.Error().Err(err).Msg("record renew event")
		}
	}

	result.Status = StatusFullSuccess
	o.observe("renew", result)
	return result, nil
}

// SuspendKey disables the key on every server holding it without
// deleting the credential, then marks it suspended.
func (o *Orchestrator) SuspendKey(ctx context.Context, clientUUID, actor string) (*Result, error) {
	return o.toggleKey(ctx, clientUUID, actor, false)
}

// ReactivateKey re-enables a suspended key on every server holding it.
func (o *Orchestrator) ReactivateKey(ctx context.Context, clientUUID, actor string) (*Result, error) {
	return o.toggleKey(ctx, clientUUID, actor, true)
}

func (o *Orchestrator) toggleKey(ctx context.Context, clientUUID, actor string, enabled bool) (*Result, error) {
	operation, action, status := "suspend", model.ActionSuspended, model.StatusSuspended
	if enabled {
		operation, action, status = "reactivate", model.ActionReactivated, model.StatusActive
	}

	client, err := o.store.GetClient(ctx, clientUUID)
	if err != nil {
		return nil, fmt.Errorf("%s key: %w", operation, err)
	}

	o.locks.lock(client.Email)
	defer o.locks.unlock(client.Email)

	adapters, err := o.membershipAdapters(ctx, clientUUID)
	if err != nil {
		return nil, fmt.Errorf("%s key: %w", operation, err)
	}

	outcomes := o.fanout(ctx, adapters, func(ctx context.Context, a panel.Adapter) error {
		return a.SetClientEnabled(ctx, client.Email, enabled)
	})

	result := &Result{ClientUUID: clientUUID, Email: client.Email, Outcomes: outcomes}
	if !allOK(outcomes) {
		result.Status = StatusPartial
		o.observe(operation, result)
		return result, nil
	}

	if err := o.store.UpdateClientStatus(ctx, clientUUID, status); err != nil {
		return nil, fmt.Errorf("%s key: %w", operation, err)
	}
	event := &model.LifecycleEvent{ClientUUID: clientUUID, Action: action, Actor: actor}
	if err := o.store.RecordEvent(ctx, event); err != nil {
		o.logger.Error().Err(err).Msg("record lifecycle event")
	}

	result.Status = StatusFullSuccess
	o.observe(operation, result)
	return result, nil
}

// membershipAdapters resolves adapters for every server currently holding
// the client. Servers gone from the config are skipped with a warning.
func (o *Orchestrator) membershipAdapters(ctx context.Context, clientUUID string) ([]panel.Adapter, error) {
	servers, err := o.store.ActiveServersFor(ctx, clientUUID)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("client %s has no active memberships", clientUUID)
	}
	adapters, missing := o.resolveAdapters(servers)
	for _, name := range missing {
		o.logger.Warn().Str("server", name).Str("client", clientUUID).
			Msg("membership references server missing from config")
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("none of client %s's servers remain in config", clientUUID)
	}
	return adapters, nil
}
