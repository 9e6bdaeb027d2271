package core

import (
	"context"
	"fmt"

	"github.com/edvin/keyfleet/internal/model"
)

// LifecycleService appends to and reads the audit ledger.
type LifecycleService struct {
	db DB
}

func NewLifecycleService(db DB) *LifecycleService {
	return &LifecycleService{db: db}
}

// Record appends one event. The ledger is append-only; there is no update
// or delete.
func (s *LifecycleService) Record(ctx context.Context, e *model.LifecycleEvent) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO lifecycle_events (client_uuid, action, actor, old_expire_at, new_expire_at, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 RETURNING id, created_at`,
		e.ClientUUID, e.Action, e.Actor, e.OldExpireAt, e.NewExpireAt, e.Note,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record lifecycle event: %w", err)
	}
	return nil
}

func (s *LifecycleService) ListByClient(ctx context.Context, clientUUID string, limit int) ([]model.LifecycleEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, client_uuid, action, actor, old_expire_at, new_expire_at, note, created_at
		 FROM lifecycle_events WHERE client_uuid = $1 ORDER BY id DESC LIMIT $2`,
		clientUUID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list lifecycle events for %s: %w", clientUUID, err)
	}
	defer rows.Close()

	var events []model.LifecycleEvent
	for rows.Next() {
		var e model.LifecycleEvent
		if err := rows.Scan(&e.ID, &e.ClientUUID, &e.Action, &e.Actor, &e.OldExpireAt, &e.NewExpireAt, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lifecycle event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lifecycle events: %w", err)
	}
	return events, nil
}
