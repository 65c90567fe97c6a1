package convo

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a backend call that exceeded its deadline.
var ErrTimeout = errors.New("backend request timed out")

// SessionError reports a rejected password or an invalid/expired session id.
type SessionError struct {
	Status  int
	Message string
}

func (e *SessionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session rejected (status %d)", e.Status)
	}
	return fmt.Sprintf("session rejected (status %d): %s", e.Status, e.Message)
}

// RequestError reports a transport-level failure talking to the backend
// (DNS, refused connection, reset, bad response body).
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *RequestError) Unwrap() error { return e.Err }
