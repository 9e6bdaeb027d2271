package model

import "time"

// Client is one issued access credential. ExpireAt == nil means the key
// never expires. TrafficLimitBytes == 0 means unbounded.
type Client struct {
	UUID              string     `json:"uuid" db:"uuid"`
	Email             string     `json:"email" db:"email"`
	Phone             string     `json:"phone,omitempty" db:"phone"`
	Status            string     `json:"status" db:"status"`
	ExpireAt          *time.Time `json:"expire_at,omitempty" db:"expire_at"`
	IPLimit           int        `json:"ip_limit" db:"ip_limit"`
	TrafficLimitBytes int64      `json:"traffic_limit_bytes" db:"traffic_limit_bytes"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}
