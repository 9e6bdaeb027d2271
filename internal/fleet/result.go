package fleet

// Fan-out result statuses.
const (
	// StatusFullSuccess: every targeted server confirmed the operation.
	StatusFullSuccess = "full_success"
	// StatusPartialQueued: the synchronous pass did not complete; a
	// durable operation was queued and will converge in the background.
	StatusPartialQueued = "partial_queued"
	// StatusPartial: a best-effort operation (renew, suspend) failed on
	// some servers; the record store was left untouched.
	StatusPartial = "partial"
	// StatusFailed: the operation was explicitly refused and rolled back.
	StatusFailed = "failed"
)

// ServerOutcome is the per-server verdict of one fan-out.
type ServerOutcome struct {
	Server    string `json:"server"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Transient bool   `json:"transient,omitempty"`
}

// Result is what a fan-out reports back to the caller: the overall
// status, every per-server outcome, and the queued operation ID when the
// operation went to the retry queue.
type Result struct {
	Status            string          `json:"status"`
	ClientUUID        string          `json:"client_uuid"`
	Email             string          `json:"email"`
	Outcomes          []ServerOutcome `json:"outcomes"`
	QueuedOperationID string          `json:"queued_operation_id,omitempty"`
}

func allOK(outcomes []ServerOutcome) bool {
	for _, o := range outcomes {
		if !o.OK {
			return false
		}
	}
	return true
}

func anyRejected(outcomes []ServerOutcome) bool {
	for _, o := range outcomes {
		if !o.OK && !o.Transient {
			return true
		}
	}
	return false
}

func succeededServers(outcomes []ServerOutcome) []string {
	var names []string
	for _, o := range outcomes {
		if o.OK {
			names = append(names, o.Server)
		}
	}
	return names
}

func failedServers(outcomes []ServerOutcome) []string {
	var names []string
	for _, o := range outcomes {
		if !o.OK {
			names = append(names, o.Server)
		}
	}
	return names
}
