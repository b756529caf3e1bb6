// Package postgres persists audit ledger entries. The table's bigserial
// assigns sequence ids; this package issues INSERT and SELECT only.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"katha/internal/audit"
	domain "katha/pkg/domain"
	txcontext "katha/pkg/platform/tx"
)

// Store implements audit.Store over the audit_entries table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, e *audit.Entry) (int64, error) {
	var subjectID *uuid.UUID
	if e.SubjectID != nil {
		u := uuid.UUID(*e.SubjectID)
		subjectID = &u
	}

	query := `
		INSERT INTO audit_entries (subject_id, action, actor, details)
		VALUES ($1, $2, $3, $4)
		RETURNING sequence_id, created_at
	`
	var seq int64
	err := s.execer(ctx).QueryRowContext(ctx, query,
		subjectID,
		string(e.Action),
		e.Actor,
		nullableJSON(e.Details),
	).Scan(&seq, &e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	e.SequenceID = seq
	return seq, nil
}

func (s *Store) List(ctx context.Context, subjectID *domain.SubjectID, offset, limit int) ([]*audit.Entry, int64, error) {
	var (
		total int64
		args  []any
		where string
	)
	if subjectID != nil {
		where = `WHERE subject_id = $1`
		args = append(args, uuid.UUID(*subjectID))
	}

	countQuery := `SELECT COUNT(*) FROM audit_entries ` + where
	if err := s.execer(ctx).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	listQuery := fmt.Sprintf(`
		SELECT sequence_id, subject_id, action, actor, details, created_at
		FROM audit_entries %s
		ORDER BY sequence_id ASC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.execer(ctx).QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			subject *uuid.UUID
			details sql.NullString
		)
		if err := rows.Scan(&e.SequenceID, &subject, &e.Action, &e.Actor, &details, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		if subject != nil {
			sid := domain.SubjectID(*subject)
			e.SubjectID = &sid
		}
		if details.Valid {
			e.Details = []byte(details.String)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, total, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
