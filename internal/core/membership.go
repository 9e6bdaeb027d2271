package core

import (
	"context"
	"fmt"

	"github.com/edvin/keyfleet/internal/model"
)

// MembershipService tracks which servers hold a live credential for each
// client.
type MembershipService struct {
	db DB
}

func NewMembershipService(db DB) *MembershipService {
	return &MembershipService{db: db}
}

const membershipColumns = `client_uuid, server_name, status, created_at, updated_at`

func scanMembership(row interface{ Scan(dest ...any) error }) (model.ServerMembership, error) {
	var m model.ServerMembership
	err := row.Scan(&m.ClientUUID, &m.ServerName, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// Upsert records the membership, reviving a previously deleted row if the
// client came back to the server.
func (s *MembershipService) Upsert(ctx context.Context, clientUUID, serverName, status string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO server_memberships (client_uuid, server_name, status, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (client_uuid, server_name)
		 DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		clientUUID, serverName, status,
	)
	if err != nil {
		return fmt.Errorf("upsert membership %s/%s: %w", clientUUID, serverName, err)
	}
	return nil
}

func (s *MembershipService) SetStatus(ctx context.Context, clientUUID, serverName, status string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE server_memberships SET status = $1, updated_at = now()
		 WHERE client_uuid = $2 AND server_name = $3`,
		status, clientUUID, serverName,
	)
	if err != nil {
		return fmt.Errorf("set membership %s/%s status: %w", clientUUID, serverName, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("membership %s/%s not found", clientUUID, serverName)
	}
	return nil
}

func (s *MembershipService) ListByClient(ctx context.Context, clientUUID string) ([]model.ServerMembership, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+membershipColumns+` FROM server_memberships WHERE client_uuid = $1 ORDER BY server_name`,
		clientUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships for client %s: %w", clientUUID, err)
	}
	defer rows.Close()
	return collectMemberships(rows)
}

// ActiveServersFor returns the names of servers currently holding the
// client, the target set for delete fan-outs.
func (s *MembershipService) ActiveServersFor(ctx context.Context, clientUUID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT server_name FROM server_memberships
		 WHERE client_uuid = $1 AND status = $2 ORDER BY server_name`,
		clientUUID, model.MembershipActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list active servers for client %s: %w", clientUUID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan server name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate server names: %w", err)
	}
	return names, nil
}

// ActiveByServer returns the active memberships on one server. This is
// the record-store side of a reconciliation pass.
func (s *MembershipService) ActiveByServer(ctx context.Context, serverName string) ([]model.ServerMembership, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+membershipColumns+` FROM server_memberships
		 WHERE server_name = $1 AND status = $2 ORDER BY client_uuid`,
		serverName, model.MembershipActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships on server %s: %w", serverName, err)
	}
	defer rows.Close()
	return collectMemberships(rows)
}

func collectMemberships(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]model.ServerMembership, error) {
	var memberships []model.ServerMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return memberships, nil
}
