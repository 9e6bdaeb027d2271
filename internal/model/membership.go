package model

import "time"

// ServerMembership records that a client currently has a live credential
// object on a panel server. This is the one table that can legitimately
// drift from remote reality; reconciliation repairs it.
type ServerMembership struct {
	ClientUUID string    `json:"client_uuid" db:"client_uuid"`
	ServerName string    `json:"server_name" db:"server_name"`
	Status     string    `json:"status" db:"status"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
