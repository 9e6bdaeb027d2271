package request

import "time"

// CreateKey accepts either an absolute expire_at or a relative number of
// days; days wins when both are set. An empty server targets the whole
// active fleet.
type CreateKey struct {
	Email             string     `json:"email" validate:"omitempty,email"`
	Phone             string     `json:"phone"`
	ExpireAt          *time.Time `json:"expire_at"`
	Days              int        `json:"days" validate:"gte=0"`
	IPLimit           int        `json:"ip_limit" validate:"gte=0"`
	TrafficLimitBytes int64      `json:"traffic_limit_bytes" validate:"gte=0"`
	Server            string     `json:"server" validate:"omitempty,slug"`
}

type RenewKey struct {
	Days int `json:"days" validate:"required,gt=0"`
}

type SetServerActive struct {
	Active *bool `json:"active" validate:"required"`
}

type CreateAPIKey struct {
	Name string `json:"name" validate:"required,slug"`
}
