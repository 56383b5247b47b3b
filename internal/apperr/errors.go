// Package apperr holds the error taxonomy shared by the sync components.
//
// Transport and chunk errors are retryable. Item and validation errors are
// recorded and never abort a run. Persistence errors abort the enclosing
// transaction only.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateWebhook is returned by the queue when a delivery id was already accepted.
	// It is an acknowledgement, not a failure.
	ErrDuplicateWebhook = errors.New("webhook already received")

	// ErrInvalidTransition reports a webhook status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid webhook status transition")

	// ErrSignatureMismatch reports a webhook body whose HMAC does not match the configured secret.
	ErrSignatureMismatch = errors.New("webhook signature mismatch")

	ErrNotFound = errors.New("not found")
)

// TransportError wraps a network or timeout failure talking to an external API.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from an external API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: API request failed: %d - %s", e.Op, e.StatusCode, e.Body)
}

// RemoteItemError is a single batch item rejected by the remote catalog.
type RemoteItemError struct {
	Key     string
	Code    string
	Message string
}

func (e *RemoteItemError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote rejected %s: %s (%s)", e.Key, e.Message, e.Code)
	}
	return fmt.Sprintf("remote rejected %s: %s", e.Key, e.Message)
}

// RemoteChunkError is a whole batch request that failed after its retry.
type RemoteChunkError struct {
	Kind  string
	Size  int
	Err   error
	Tries int
}

func (e *RemoteChunkError) Error() string {
	return fmt.Sprintf("%s chunk of %d items failed after %d attempts: %v", e.Kind, e.Size, e.Tries, e.Err)
}

func (e *RemoteChunkError) Unwrap() error { return e.Err }

// ValidationError marks a malformed local entity that is skipped, never sent.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return "invalid entity: " + e.Reason
	}
	return fmt.Sprintf("invalid entity %s: %s", e.Key, e.Reason)
}

// UnsupportedTopicError is raised at enqueue time for topics outside the closed set.
type UnsupportedTopicError struct {
	Topic string
}

func (e *UnsupportedTopicError) Error() string {
	return fmt.Sprintf("unsupported webhook topic %q", e.Topic)
}

// PersistenceError wraps a failed local store write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError, passing nil through.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsRetryable reports whether err is worth one more attempt at the chunk level.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == 429
	}
	return false
}
