package core

import (
	"context"
	"fmt"

	"github.com/edvin/keyfleet/internal/model"
)

// CommitCreate records a fully provisioned key: the client row, one
// membership per server and the audit event land in a single transaction.
// A key that never fully provisions leaves no rows here at all; its
// identity lives in the outbox payload until the retry succeeds.
func (s *Services) CommitCreate(ctx context.Context, client *model.Client, servers []string, actor string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create commit: %w", err)
	}
	defer tx.Rollback(ctx)

	status := client.Status
	if status == "" {
		status = model.StatusActive
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO clients (uuid, email, phone, status, expire_at, ip_limit, traffic_limit_bytes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		client.UUID, client.Email, client.Phone, status, client.ExpireAt, client.IPLimit, client.TrafficLimitBytes,
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}

	for _, name := range servers {
		_, err = tx.Exec(ctx,
			`INSERT INTO server_memberships (client_uuid, server_name, status, created_at, updated_at)
			 VALUES ($1, $2, $3, now(), now())
			 ON CONFLICT (client_uuid, server_name)
			 DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
			client.UUID, name, model.MembershipActive,
		)
		if err != nil {
			return fmt.Errorf("insert membership %s: %w", name, err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO lifecycle_events (client_uuid, action, actor, new_expire_at, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		client.UUID, model.ActionCreated, actor, client.ExpireAt,
	)
	if err != nil {
		return fmt.Errorf("insert lifecycle event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// CommitDelete finalizes a delete fan-out: the client goes to deleted,
// every membership follows, and the audit event is appended, atomically.
func (s *Services) CommitDelete(ctx context.Context, clientUUID, actor, note string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete commit: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE clients SET status = $1, updated_at = now() WHERE uuid = $2`,
		model.StatusDeleted, clientUUID,
	)
	if err != nil {
		return fmt.Errorf("mark client deleted: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE server_memberships SET status = $1, updated_at = now() WHERE client_uuid = $2`,
		model.MembershipDeleted, clientUUID,
	)
	if err != nil {
		return fmt.Errorf("mark memberships deleted: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO lifecycle_events (client_uuid, action, actor, note, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		clientUUID, model.ActionDeleted, actor, note,
	)
	if err != nil {
		return fmt.Errorf("insert lifecycle event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}
