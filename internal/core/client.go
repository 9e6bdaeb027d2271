package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/keyfleet/internal/model"
)

// ClientService manages client (key) rows in the record store.
type ClientService struct {
	db DB
}

func NewClientService(db DB) *ClientService {
	return &ClientService{db: db}
}

const clientColumns = `uuid, email, phone, status, expire_at, ip_limit, traffic_limit_bytes, created_at, updated_at`

func scanClient(row interface{ Scan(dest ...any) error }) (model.Client, error) {
	var c model.Client
	err := row.Scan(&c.UUID, &c.Email, &c.Phone, &c.Status, &c.ExpireAt, &c.IPLimit, &c.TrafficLimitBytes, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// Create inserts a client row directly, outside any fan-out. The
// orchestrator does not use it; it exists for reconciliation adoption and
// seeding.
func (s *ClientService) Create(ctx context.Context, c *model.Client) error {
	if c.Status == "" {
		c.Status = model.StatusActive
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO clients (uuid, email, phone, status, expire_at, ip_limit, traffic_limit_bytes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		c.UUID, c.Email, c.Phone, c.Status, c.ExpireAt, c.IPLimit, c.TrafficLimitBytes,
	)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	err = s.db.QueryRow(ctx, `SELECT created_at, updated_at FROM clients WHERE uuid = $1`, c.UUID).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("get client timestamps: %w", err)
	}
	return nil
}

func (s *ClientService) GetByUUID(ctx context.Context, uuid string) (*model.Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE uuid = $1`, uuid))
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", uuid, err)
	}
	return &c, nil
}

func (s *ClientService) GetByEmail(ctx context.Context, email string) (*model.Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE email = $1`, email))
	if err != nil {
		return nil, fmt.Errorf("get client by email %s: %w", email, err)
	}
	return &c, nil
}

// List retrieves clients with cursor-based pagination, optionally
// filtered by status.
func (s *ClientService) List(ctx context.Context, status string, limit int, cursor string) ([]model.Client, bool, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE 1=1`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, status)
		argIdx++
	}
	if cursor != "" {
		query += fmt.Sprintf(` AND uuid > $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY uuid`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate clients: %w", err)
	}

	hasMore := len(clients) > limit
	if hasMore {
		clients = clients[:limit]
	}
	return clients, hasMore, nil
}

func (s *ClientService) UpdateStatus(ctx context.Context, uuid, status string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE clients SET status = $1, updated_at = now() WHERE uuid = $2`, status, uuid,
	)
	if err != nil {
		return fmt.Errorf("update client %s status: %w", uuid, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s not found", uuid)
	}
	return nil
}

func (s *ClientService) UpdateExpiry(ctx context.Context, uuid string, expireAt *time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE clients SET expire_at = $1, updated_at = now() WHERE uuid = $2`, expireAt, uuid,
	)
	if err != nil {
		return fmt.Errorf("update client %s expiry: %w", uuid, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s not found", uuid)
	}
	return nil
}

// ExpireOverdue flips active clients whose expiry has passed to expired
// and returns their UUIDs.
func (s *ClientService) ExpireOverdue(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE clients SET status = $1, updated_at = now()
		 WHERE status = $2 AND expire_at IS NOT NULL AND expire_at < now()
		 RETURNING uuid`,
		model.StatusExpired, model.StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("expire overdue clients: %w", err)
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, fmt.Errorf("scan expired client: %w", err)
		}
		uuids = append(uuids, uuid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired clients: %w", err)
	}
	return uuids, nil
}

// CountByStatus reports how many clients sit in each status, for the
// fleet metrics gauges.
func (s *ClientService) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM clients GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count clients: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan client count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client counts: %w", err)
	}
	return counts, nil
}
