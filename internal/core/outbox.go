package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/platform"
)

// OutboxService is the durable retry queue. Operations that could not
// complete synchronously are parked here and drained by the worker.
type OutboxService struct {
	db DB
}

func NewOutboxService(db DB) *OutboxService {
	return &OutboxService{db: db}
}

const operationColumns = `id, kind, client_uuid, servers, payload, attempt_count, max_attempts, status, next_attempt_at, last_error, created_at, updated_at`

func scanOperation(row interface{ Scan(dest ...any) error }) (model.PendingOperation, error) {
	var op model.PendingOperation
	err := row.Scan(&op.ID, &op.Kind, &op.ClientUUID, &op.Servers, &op.Payload,
		&op.AttemptCount, &op.MaxAttempts, &op.Status, &op.NextAttempt,
		&op.LastError, &op.CreatedAt, &op.UpdatedAt)
	return op, err
}

// Enqueue inserts a queued operation. ID and next attempt time are filled
// in when the caller left them zero.
func (s *OutboxService) Enqueue(ctx context.Context, op *model.PendingOperation) error {
	if op.ID == "" {
		op.ID = platform.NewID()
	}
	if op.Status == "" {
		op.Status = model.OperationQueued
	}
	if op.NextAttempt.IsZero() {
		op.NextAttempt = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO pending_operations (id, kind, client_uuid, servers, payload, attempt_count, max_attempts, status, next_attempt_at, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
		op.ID, op.Kind, op.ClientUUID, op.Servers, op.Payload,
		op.AttemptCount, op.MaxAttempts, op.Status, op.NextAttempt, op.LastError,
	)
	if err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}
	return nil
}

// ClaimDue atomically moves up to limit due operations to in_progress and
// returns them. SKIP LOCKED keeps concurrent drainers from claiming the
// same rows.
func (s *OutboxService) ClaimDue(ctx context.Context, limit int) ([]model.PendingOperation, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE pending_operations SET status = $1, updated_at = now()
		 WHERE id IN (
		   SELECT id FROM pending_operations
		   WHERE status = $2 AND next_attempt_at <= now()
		   ORDER BY next_attempt_at
		   LIMIT $3
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+operationColumns,
		model.OperationInProgress, model.OperationQueued, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due operations: %w", err)
	}
	defer rows.Close()

	var ops []model.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

func (s *OutboxService) MarkDone(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE pending_operations SET status = $1, last_error = NULL, updated_at = now() WHERE id = $2`,
		model.OperationDone, id,
	)
	if err != nil {
		return fmt.Errorf("mark operation %s done: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("operation %s not found", id)
	}
	return nil
}

// Reschedule re-queues a failed attempt with the next backoff deadline.
func (s *OutboxService) Reschedule(ctx context.Context, id string, nextAttempt time.Time, lastError string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE pending_operations
		 SET status = $1, attempt_count = attempt_count + 1, next_attempt_at = $2, last_error = $3, updated_at = now()
		 WHERE id = $4`,
		model.OperationQueued, nextAttempt, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("reschedule operation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("operation %s not found", id)
	}
	return nil
}

// MarkTerminal parks the operation permanently after its attempt budget
// is spent or a panel rejected it outright.
func (s *OutboxService) MarkTerminal(ctx context.Context, id, lastError string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE pending_operations
		 SET status = $1, attempt_count = attempt_count + 1, last_error = $2, updated_at = now()
		 WHERE id = $3`,
		model.OperationFailedTerminal, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("mark operation %s terminal: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("operation %s not found", id)
	}
	return nil
}

func (s *OutboxService) GetByID(ctx context.Context, id string) (*model.PendingOperation, error) {
	op, err := scanOperation(s.db.QueryRow(ctx,
		`SELECT `+operationColumns+` FROM pending_operations WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", id, err)
	}
	return &op, nil
}

// List retrieves operations with cursor-based pagination, optionally
// filtered by status.
func (s *OutboxService) List(ctx context.Context, status string, limit int, cursor string) ([]model.PendingOperation, bool, error) {
	query := `SELECT ` + operationColumns + ` FROM pending_operations WHERE 1=1`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, status)
		argIdx++
	}
	if cursor != "" {
		query += fmt.Sprintf(` AND id > $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []model.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate operations: %w", err)
	}

	hasMore := len(ops) > limit
	if hasMore {
		ops = ops[:limit]
	}
	return ops, hasMore, nil
}

// Requeue puts a queued or terminally failed operation back at the front
// of the queue with a fresh attempt budget. Operator-triggered.
func (s *OutboxService) Requeue(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE pending_operations
		 SET status = $1, attempt_count = 0, next_attempt_at = now(), updated_at = now()
		 WHERE id = $2 AND status IN ($1, $3)`,
		model.OperationQueued, id, model.OperationFailedTerminal,
	)
	if err != nil {
		return fmt.Errorf("requeue operation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("operation %s not found or not requeueable", id)
	}
	return nil
}

// HasPendingFor reports whether the client has an operation still in
// flight. Reconciliation skips such clients: the queue will settle them.
func (s *OutboxService) HasPendingFor(ctx context.Context, clientUUID string) (bool, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM pending_operations
		 WHERE client_uuid = $1 AND status IN ($2, $3)`,
		clientUUID, model.OperationQueued, model.OperationInProgress,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count pending operations for %s: %w", clientUUID, err)
	}
	return n > 0, nil
}

// Depth reports the queue size per status, for the outbox gauges.
func (s *OutboxService) Depth(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM pending_operations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan operation count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation counts: %w", err)
	}
	return counts, nil
}
