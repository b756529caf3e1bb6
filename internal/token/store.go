package token

import (
	"context"
	"time"

	domain "katha/pkg/domain"
)

// Store persists consent tokens. Implementations return sentinel errors for
// infrastructure facts; services translate them to domain errors.
//
// MarkRevoked must be atomic: under concurrent calls for one id exactly one
// caller observes success, the rest observe sentinel.ErrAlreadyRevoked.
type Store interface {
	// Insert stores a freshly issued token. sentinel.ErrConflict on id reuse.
	Insert(ctx context.Context, t *ConsentToken) error

	// FindByID returns the token or sentinel.ErrNotFound.
	FindByID(ctx context.Context, id domain.TokenID) (*ConsentToken, error)

	// ListBySubject returns all tokens ever issued for a subject, including
	// expired and revoked ones, newest first.
	ListBySubject(ctx context.Context, subjectID domain.SubjectID) ([]*ConsentToken, error)

	// MarkRevoked flips the one-way revoked bit and stamps revokedAt.
	// sentinel.ErrNotFound for unknown ids, sentinel.ErrAlreadyRevoked when
	// another caller won the transition.
	MarkRevoked(ctx context.Context, id domain.TokenID, revokedAt time.Time) error

	// DeleteBySubject removes all of a subject's tokens. Only the passport
	// delete cascade calls this, inside the cascade transaction.
	DeleteBySubject(ctx context.Context, subjectID domain.SubjectID) (int64, error)
}
