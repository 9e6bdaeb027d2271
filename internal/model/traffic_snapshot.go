package model

import "time"

// TrafficSnapshot is a point-in-time read of a client's traffic counters on
// one server, captured opportunistically during reconciliation.
type TrafficSnapshot struct {
	ClientUUID string    `json:"client_uuid" db:"client_uuid"`
	ServerName string    `json:"server_name" db:"server_name"`
	UpBytes    int64     `json:"up_bytes" db:"up_bytes"`
	DownBytes  int64     `json:"down_bytes" db:"down_bytes"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}
