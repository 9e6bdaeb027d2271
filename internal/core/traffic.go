package core

import (
	"context"
	"fmt"

	"github.com/edvin/keyfleet/internal/model"
)

// TrafficService stores the latest traffic counters captured during
// reconciliation. One row per client per server, overwritten in place.
type TrafficService struct {
	db DB
}

func NewTrafficService(db DB) *TrafficService {
	return &TrafficService{db: db}
}

func (s *TrafficService) Record(ctx context.Context, snap *model.TrafficSnapshot) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO traffic_snapshots (client_uuid, server_name, up_bytes, down_bytes, captured_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (client_uuid, server_name)
		 DO UPDATE SET up_bytes = EXCLUDED.up_bytes, down_bytes = EXCLUDED.down_bytes, captured_at = now()`,
		snap.ClientUUID, snap.ServerName, snap.UpBytes, snap.DownBytes,
	)
	if err != nil {
		return fmt.Errorf("record traffic snapshot %s/%s: %w", snap.ClientUUID, snap.ServerName, err)
	}
	return nil
}

func (s *TrafficService) ListByClient(ctx context.Context, clientUUID string) ([]model.TrafficSnapshot, error) {
	rows, err := s.db.Query(ctx,
		`SELECT client_uuid, server_name, up_bytes, down_bytes, captured_at
		 FROM traffic_snapshots WHERE client_uuid = $1 ORDER BY server_name`,
		clientUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("list traffic for client %s: %w", clientUUID, err)
	}
	defer rows.Close()

	var snaps []model.TrafficSnapshot
	for rows.Next() {
		var snap model.TrafficSnapshot
		if err := rows.Scan(&snap.ClientUUID, &snap.ServerName, &snap.UpBytes, &snap.DownBytes, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan traffic snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traffic snapshots: %w", err)
	}
	return snaps, nil
}
