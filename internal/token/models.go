// Package token owns the durable record of issued consent tokens. The signed
// JWT is what callers hold; the row here is what makes it revocable and lets
// expiry be queried without re-parsing the token.
package token

import (
	"time"

	domain "katha/pkg/domain"
)

// ConsentToken is one grant of access. Immutable after issuance except for
// the one-way revoked transition. Rows are never deleted individually;
// historical tokens stay queryable for audit, and only a subject cascade
// removes them.
type ConsentToken struct {
	ID          domain.TokenID
	SubjectID   domain.SubjectID
	Scopes      []string
	Constraints domain.Constraints
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   *time.Time
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *ConsentToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
