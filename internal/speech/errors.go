package speech

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned at construction time when the cloud backend
// has no credential configured. Generation is disabled before any network
// call is attempted.
var ErrMissingAPIKey = errors.New("cloud backend requires an api key")

// ErrServerUnavailable marks a failed liveness gate.
var ErrServerUnavailable = errors.New("backend server is not available")

// TransportError wraps a network-level failure reaching the endpoint.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s backend unreachable: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendError carries a non-success HTTP status and the response body text.
type BackendError struct {
	Backend string
	Status  int
	Body    string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s backend returned status %d", e.Backend, e.Status)
	}
	return fmt.Sprintf("%s backend returned status %d: %s", e.Backend, e.Status, e.Body)
}
