package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind categorizes why a connection could not be established
type ErrorKind string

const (
	KindUnreachable       ErrorKind = "unreachable"
	KindMissingCredential ErrorKind = "missing_credential"
	KindHandshakeTimeout  ErrorKind = "handshake_timeout"
	KindRejected          ErrorKind = "rejected"
)

// ErrNotConnected is returned by capture operations on a transport that is not ready
var ErrNotConnected = errors.New("transport not connected")

// ConnectionError is returned by Connect. It is never retried internally.
type ConnectionError struct {
	Kind      ErrorKind
	Endpoint  string
	Message   string
	Timestamp time.Time
	Err       error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func newConnectionError(kind ErrorKind, endpoint, message string, err error) *ConnectionError {
	return &ConnectionError{
		Kind:      kind,
		Endpoint:  endpoint,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// IsConnectionError reports whether err is, or wraps, a ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// ErrorKindOf returns the kind of a wrapped ConnectionError, or "" if there is none
func ErrorKindOf(err error) ErrorKind {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
