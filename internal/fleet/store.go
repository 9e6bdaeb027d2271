package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/keyfleet/internal/core"
	"github.com/edvin/keyfleet/internal/model"
)

// Store is the record-store surface the orchestrator needs. Satisfied by
// coreStore in production; tests use a fake.
type Store interface {
	CommitCreate(ctx context.Context, client *model.Client, servers []string, actor string) error
	CommitDelete(ctx context.Context, clientUUID, actor, note string) error
	GetClient(ctx context.Context, uuid string) (*model.Client, error)
	// GetClientByEmail returns (nil, nil) when no client carries the email.
	GetClientByEmail(ctx context.Context, email string) (*model.Client, error)
	ActiveServersFor(ctx context.Context, clientUUID string) ([]string, error)
	SetMembershipStatus(ctx context.Context, clientUUID, serverName, status string) error
	UpdateClientStatus(ctx context.Context, uuid, status string) error
	UpdateClientExpiry(ctx context.Context, uuid string, expireAt *time.Time) error
	RecordEvent(ctx context.Context, e *model.LifecycleEvent) error
	EnqueueOperation(ctx context.Context, op *model.PendingOperation) error
	RaiseAlert(ctx context.Context, kind, clientUUID, serverName string, detail any) error
}

type coreStore struct {
	s *core.Services
}

// NewStore adapts the core services to the orchestrator's Store.
func NewStore(s *core.Services) Store {
	return &coreStore{s: s}
}

func (c *coreStore) CommitCreate(ctx context.Context, client *model.Client, servers []string, actor string) error {
	return c.s.CommitCreate(ctx, client, servers, actor)
}

func (c *coreStore) CommitDelete(ctx context.Context, clientUUID, actor, note string) error {
	return c.s.CommitDelete(ctx, clientUUID, actor, note)
}

func (c *coreStore) GetClient(ctx context.Context, uuid string) (*model.Client, error) {
	return c.s.Client.GetByUUID(ctx, uuid)
}

func (c *coreStore) GetClientByEmail(ctx context.Context, email string) (*model.Client, error) {
	client, err := c.s.Client.GetByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return client, err
}

func (c *coreStore) ActiveServersFor(ctx context.Context, clientUUID string) ([]string, error) {
	return c.s.Membership.ActiveServersFor(ctx, clientUUID)
}

func (c *coreStore) SetMembershipStatus(ctx context.Context, clientUUID, serverName, status string) error {
	return c.s.Membership.SetStatus(ctx, clientUUID, serverName, status)
}

func (c *coreStore) UpdateClientStatus(ctx context.Context, uuid, status string) error {
	return c.s.Client.UpdateStatus(ctx, uuid, status)
}

func (c *coreStore) UpdateClientExpiry(ctx context.Context, uuid string, expireAt *time.Time) error {
	return c.s.Client.UpdateExpiry(ctx, uuid, expireAt)
}

func (c *coreStore) RecordEvent(ctx context.Context, e *model.LifecycleEvent) error {
	return c.s.Lifecycle.Record(ctx, e)
}

func (c *coreStore) EnqueueOperation(ctx context.Context, op *model.PendingOperation) error {
	return c.s.Outbox.Enqueue(ctx, op)
}

func (c *coreStore) RaiseAlert(ctx context.Context, kind, clientUUID, serverName string, detail any) error {
	return c.s.Alert.Raise(ctx, kind, clientUUID, serverName, detail)
}
