package model

// Client status constants.
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusSuspended = "suspended"
	StatusDeleted   = "deleted"
)

// Membership status constants. Error is set manually by operators for
// rows that need attention outside the automated lifecycle.
const (
	MembershipActive  = "active"
	MembershipDeleted = "deleted"
	MembershipError   = "error"
)

// Pending operation status constants.
const (
	OperationQueued         = "queued"
	OperationInProgress     = "in_progress"
	OperationDone           = "done"
	OperationFailedTerminal = "failed_terminal"
)

// Pending operation kinds.
const (
	OperationCreate = "create"
	OperationDelete = "delete"
)

// Lifecycle event actions.
const (
	ActionCreated     = "created"
	ActionExtended    = "extended"
	ActionSuspended   = "suspended"
	ActionReactivated = "reactivated"
	ActionDeleted     = "deleted"
	ActionReconciled  = "reconciled"
)

// Operational alert kinds.
const (
	AlertRetryExhausted     = "retry_exhausted"
	AlertCompensationFailed = "compensation_failed"
	AlertReconcileDrift     = "reconcile_drift"
)
