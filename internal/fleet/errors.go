package fleet

import "errors"

// terminalError marks a retry failure that must not be attempted again:
// a panel explicitly rejected the operation, or the operation itself is
// malformed. The drainer parks these instead of rescheduling.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}
