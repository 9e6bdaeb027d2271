package model

import (
	"encoding/json"
	"time"
)

// PendingOperation is a durable outbox entry for a fan-out that could not
// complete synchronously. Payload carries the identity snapshot needed to
// replay the operation without consulting the clients table.
type PendingOperation struct {
	ID           string          `json:"id" db:"id"`
	Kind         string          `json:"kind" db:"kind"`
	ClientUUID   string          `json:"client_uuid" db:"client_uuid"`
	Servers      []string        `json:"servers" db:"servers"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	AttemptCount int             `json:"attempt_count" db:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts" db:"max_attempts"`
	Status       string          `json:"status" db:"status"`
	NextAttempt  time.Time       `json:"next_attempt_at" db:"next_attempt_at"`
	LastError    *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// DeletePayload is the payload stored for kind=delete operations.
type DeletePayload struct {
	Actor string `json:"actor,omitempty"`
}

// CreatePayload is the payload stored for kind=create operations.
type CreatePayload struct {
	Email             string     `json:"email"`
	Phone             string     `json:"phone,omitempty"`
	ExpireAt          *time.Time `json:"expire_at,omitempty"`
	IPLimit           int        `json:"ip_limit"`
	TrafficLimitBytes int64      `json:"traffic_limit_bytes"`
	Actor             string     `json:"actor,omitempty"`
}
