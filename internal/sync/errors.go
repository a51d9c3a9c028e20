// Package sync provides the drain loop that reconciles the local operation
// queue against the remote note service.
package sync

import (
	"errors"
	"fmt"

	"github.com/inkwell-notes/inkwell-sync/internal/outbox"
)

// Engine-level errors. These are distinct from the per-operation failure
// taxonomy: they describe the state of a sync attempt as a whole and surface
// to callers, while per-operation errors are absorbed by the failure policy.
var (
	ErrAlreadySyncing   = errors.New("sync already in progress")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidNoteData  = errors.New("invalid note data")
	ErrCookieExpired    = errors.New("cookie expired")
	ErrNetwork          = errors.New("network unavailable")
	ErrStorage          = errors.New("storage unavailable")
)

// bridgeError maps engine-level errors onto the failure policy's vocabulary
// before classification. Expired cookies and missing authentication are both
// expired sessions from the policy's point of view; engine network errors are
// connectivity loss. Everything else classifies on its own.
func bridgeError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrCookieExpired), errors.Is(err, ErrNotAuthenticated):
		return fmt.Errorf("%w: %w", err, outbox.ErrSessionExpired)
	case errors.Is(err, ErrNetwork):
		return fmt.Errorf("%w: %w", err, outbox.ErrNoConnectivity)
	}

	return err
}
