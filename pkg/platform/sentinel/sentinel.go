package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in the store
// - ErrConflict: unique constraint or first-writer-wins collision
// - ErrExpired: token past its expiry
// - ErrAlreadyRevoked: revocation requested for an already revoked token
// - ErrUnavailable: backing store unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrExpired        = errors.New("expired")
	ErrAlreadyRevoked = errors.New("already revoked")
	ErrUnavailable    = errors.New("unavailable")
)
