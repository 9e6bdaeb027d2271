package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edvin/keyfleet/internal/model"
)

// AlertService records operator-facing alerts: exhausted retries, failed
// compensations and reconciliation drift.
type AlertService struct {
	db DB
}

func NewAlertService(db DB) *AlertService {
	return &AlertService{db: db}
}

// Raise records one alert. detail is marshalled to JSON; pass nil for
// alerts with no extra context.
func (s *AlertService) Raise(ctx context.Context, kind, clientUUID, serverName string, detail any) error {
	var raw []byte
	if detail != nil {
		var err error
		raw, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("encode alert detail: %w", err)
		}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO operational_alerts (kind, client_uuid, server_name, detail, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		kind, clientUUID, serverName, raw,
	)
	if err != nil {
		return fmt.Errorf("raise %s alert: %w", kind, err)
	}
	return nil
}

// List retrieves alerts newest first with cursor-based pagination,
// optionally filtered by kind.
func (s *AlertService) List(ctx context.Context, kind string, limit int, cursor int64) ([]model.OperationalAlert, bool, error) {
	query := `SELECT id, kind, client_uuid, server_name, detail, created_at FROM operational_alerts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, kind)
		argIdx++
	}
	if cursor > 0 {
		query += fmt.Sprintf(` AND id < $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.OperationalAlert
	for rows.Next() {
		var a model.OperationalAlert
		if err := rows.Scan(&a.ID, &a.Kind, &a.ClientUUID, &a.ServerName, &a.Detail, &a.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate alerts: %w", err)
	}

	hasMore := len(alerts) > limit
	if hasMore {
		alerts = alerts[:limit]
	}
	return alerts, hasMore, nil
}
