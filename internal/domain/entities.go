// Package domain holds the credential pool entities, the error taxonomy and
// the persistence port. It has no dependencies beyond the standard library so
// adapters and the pool manager can share it freely.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	// ErrNoCredentials is returned at construction when the configured
	// credential set is empty. The pool cannot operate without keys.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrInvalidArgument marks caller programming errors, e.g. a failure
	// report without an error code.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrPersistence wraps state-store faults. The pool absorbs these for
	// outcome recording; administrative operations surface them.
	ErrPersistence = errors.New("persistence error")
	// ErrUnknownCredential is returned when an operation names a credential
	// outside the active set.
	ErrUnknownCredential = errors.New("unknown credential")
)

// Credential is an opaque secret identifying the caller to the external
// service. It is never logged or displayed in full; diagnostics use
// Fingerprint instead.
type Credential string

// LastFailure captures the most recent failed outcome for a key.
type LastFailure struct {
	At      time.Time
	Code    string
	Message string
}

// KeyState is the runtime health record of a single credential.
// A zero KeyState means the key is healthy and has never been penalized.
type KeyState struct {
	// LastUsedAt is the time of the last dispatch, stamped by selection
	// when a minimum same-key reuse interval is configured.
	LastUsedAt time.Time
	// CooldownUntil is the time before which the key must not be selected.
	// Zero means no cooldown.
	CooldownUntil time.Time
	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int
	// LastFailure is set on failure and cleared on success.
	LastFailure *LastFailure
}

// Available reports whether the cooldown has passed at the given instant.
func (s KeyState) Available(now time.Time) bool {
	return !s.CooldownUntil.After(now)
}

// Clone returns a deep copy so callers can never mutate pool-owned state.
func (s KeyState) Clone() KeyState {
	c := s
	if s.LastFailure != nil {
		lf := *s.LastFailure
		c.LastFailure = &lf
	}
	return c
}

// StateStore persists the fingerprint-keyed state mapping. Writes are
// whole-state rewrites; there are no partial updates.
type StateStore interface {
	// Load returns the persisted mapping. A missing or malformed store
	// yields an empty mapping, not an error.
	Load(ctx context.Context) (map[string]KeyState, error)
	// Save replaces the persisted mapping with the given one.
	Save(ctx context.Context, states map[string]KeyState) error
}
