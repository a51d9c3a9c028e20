// Package outbox provides the durable operation queue and its failure policy.
package outbox

import (
	"errors"
	"fmt"
)

// Queue errors.
var (
	ErrOperationNotFound = errors.New("operation not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Transport condition sentinels. The remote collaborator wraps its errors with
// these so the failure policy can classify them without knowing the transport.
var (
	ErrNoConnectivity    = errors.New("no connectivity")
	ErrRequestTimedOut   = errors.New("request timed out")
	ErrBadServerResponse = errors.New("bad server response")
	ErrSessionExpired    = errors.New("session expired")
)

// StorageError indicates that the durable medium rejected or failed an
// operation. It is fatal to the current drain cycle only.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps an underlying store failure.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
