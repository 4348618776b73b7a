package backend

import "fmt"

// UnavailableError reports a network failure, timeout, or non-2xx status
// from an upstream backend. Eligible for the caller to retry; never retried
// here.
type UnavailableError struct {
	Backend string
	Status  int
	Detail  string
}

func (e *UnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s backend unavailable (status %d): %s", e.Backend, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s backend unavailable: %s", e.Backend, e.Detail)
}

// ProtocolError reports a malformed upstream payload. Not retried.
type ProtocolError struct {
	Backend string
	Detail  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s backend protocol error: %s", e.Backend, e.Detail)
}
