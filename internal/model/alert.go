package model

import (
	"encoding/json"
	"time"
)

// OperationalAlert is a structured event surfaced to operators: terminal
// retry failures, failed compensations, and reconciliation drift.
type OperationalAlert struct {
	ID         int64           `json:"id" db:"id"`
	Kind       string          `json:"kind" db:"kind"`
	ClientUUID string          `json:"client_uuid,omitempty" db:"client_uuid"`
	ServerName string          `json:"server_name,omitempty" db:"server_name"`
	Detail     json.RawMessage `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
