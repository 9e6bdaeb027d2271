package model

import "time"

// LifecycleEvent is one row of the append-only audit ledger. Rows are never
// mutated or deleted; current client state can be rebuilt from them.
type LifecycleEvent struct {
	ID          int64      `json:"id" db:"id"`
	ClientUUID  string     `json:"client_uuid" db:"client_uuid"`
	Action      string     `json:"action" db:"action"`
	Actor       string     `json:"actor,omitempty" db:"actor"`
	OldExpireAt *time.Time `json:"old_expire_at,omitempty" db:"old_expire_at"`
	NewExpireAt *time.Time `json:"new_expire_at,omitempty" db:"new_expire_at"`
	Note        string     `json:"note,omitempty" db:"note"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
