// Package postgres persists consent tokens in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"katha/internal/token"
	domain "katha/pkg/domain"
	"katha/pkg/platform/sentinel"
	txcontext "katha/pkg/platform/tx"
)

// Store implements token.Store over the consent_tokens table. Mutations are
// single atomic statements, so no advisory locking is needed.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Insert(ctx context.Context, t *token.ConsentToken) error {
	constraints, err := json.Marshal(t.Constraints)
	if err != nil {
		return fmt.Errorf("marshal constraints: %w", err)
	}

	query := `
		INSERT INTO consent_tokens (id, subject_id, scopes, constraints, issued_at, expires_at, revoked, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, NULL)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(t.ID),
		uuid.UUID(t.SubjectID),
		pq.Array(t.Scopes),
		constraints,
		t.IssuedAt,
		t.ExpiresAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert consent token: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id domain.TokenID) (*token.ConsentToken, error) {
	query := `
		SELECT id, subject_id, scopes, constraints, issued_at, expires_at, revoked, revoked_at
		FROM consent_tokens
		WHERE id = $1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(id))
	return scanToken(row)
}

func (s *Store) ListBySubject(ctx context.Context, subjectID domain.SubjectID) ([]*token.ConsentToken, error) {
	query := `
		SELECT id, subject_id, scopes, constraints, issued_at, expires_at, revoked, revoked_at
		FROM consent_tokens
		WHERE subject_id = $1
		ORDER BY issued_at DESC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(subjectID))
	if err != nil {
		return nil, fmt.Errorf("query consent tokens: %w", err)
	}
	defer rows.Close()

	var out []*token.ConsentToken
	for rows.Next() {
		t, err := scanTokenRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent tokens: %w", err)
	}
	return out, nil
}

// MarkRevoked flips the revoked bit in one statement. The WHERE NOT revoked
// predicate makes the first committer win; losers are told apart from unknown
// ids with a follow-up existence check.
func (s *Store) MarkRevoked(ctx context.Context, id domain.TokenID, revokedAt time.Time) error {
	query := `
		UPDATE consent_tokens
		SET revoked = true, revoked_at = $2
		WHERE id = $1 AND NOT revoked
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(id), revokedAt)
	if err != nil {
		return fmt.Errorf("revoke consent token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke consent token: %w", err)
	}
	if n == 1 {
		return nil
	}

	var revoked bool
	err = s.execer(ctx).QueryRowContext(ctx,
		`SELECT revoked FROM consent_tokens WHERE id = $1`, uuid.UUID(id),
	).Scan(&revoked)
	if err == sql.ErrNoRows {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check consent token state: %w", err)
	}
	if revoked {
		return sentinel.ErrAlreadyRevoked
	}
	return fmt.Errorf("revoke consent token %s: no rows updated", id)
}

func (s *Store) DeleteBySubject(ctx context.Context, subjectID domain.SubjectID) (int64, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM consent_tokens WHERE subject_id = $1`, uuid.UUID(subjectID))
	if err != nil {
		return 0, fmt.Errorf("delete subject tokens: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row *sql.Row) (*token.ConsentToken, error) {
	t, err := scanTokenFrom(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	return t, err
}

func scanTokenRows(rows *sql.Rows) (*token.ConsentToken, error) {
	return scanTokenFrom(rows)
}

func scanTokenFrom(row rowScanner) (*token.ConsentToken, error) {
	var (
		t           token.ConsentToken
		id, subject uuid.UUID
		scopes      pq.StringArray
		constraints []byte
		revokedAt   sql.NullTime
	)
	err := row.Scan(&id, &subject, &scopes, &constraints, &t.IssuedAt, &t.ExpiresAt, &t.Revoked, &revokedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan consent token: %w", err)
	}
	t.ID = domain.TokenID(id)
	t.SubjectID = domain.SubjectID(subject)
	t.Scopes = []string(scopes)
	if err := json.Unmarshal(constraints, &t.Constraints); err != nil {
		return nil, fmt.Errorf("unmarshal constraints: %w", err)
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	return &t, nil
}
