// Package postgres persists passports and memory records.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"katha/internal/passport"
	domain "katha/pkg/domain"
	"katha/pkg/platform/sentinel"
	txcontext "katha/pkg/platform/tx"
)

// Store implements passport.Store over the passports and memories tables.
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

func (s *Store) CreatePassport(ctx context.Context, p *passport.Passport) error {
	query := `
		INSERT INTO passports (id, family_name, persona, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID), p.FamilyName, p.Persona, p.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert passport: %w", err)
	}
	return nil
}

func (s *Store) FindPassport(ctx context.Context, id domain.PassportID) (*passport.Passport, error) {
	var (
		p   passport.Passport
		pid uuid.UUID
	)
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, family_name, persona, created_at FROM passports WHERE id = $1`,
		uuid.UUID(id),
	).Scan(&pid, &p.FamilyName, &p.Persona, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query passport: %w", err)
	}
	p.ID = domain.PassportID(pid)
	return &p, nil
}

func (s *Store) DeletePassport(ctx context.Context, id domain.PassportID) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM passports WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete passport: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete passport: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) AddMemory(ctx context.Context, m *passport.MemoryRecord) error {
	query := `
		INSERT INTO memories (id, passport_id, title, body, life_theme, triggers, memory_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		m.ID,
		uuid.UUID(m.PassportID),
		m.Title,
		m.Body,
		m.LifeTheme,
		pq.Array(m.Triggers),
		string(m.MemoryType),
		m.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *Store) ListMemories(ctx context.Context, passportID domain.PassportID) ([]*passport.MemoryRecord, error) {
	query := `
		SELECT id, passport_id, title, body, life_theme, triggers, memory_type, created_at
		FROM memories
		WHERE passport_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(passportID))
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*passport.MemoryRecord
	for rows.Next() {
		var (
			m        passport.MemoryRecord
			pid      uuid.UUID
			triggers pq.StringArray
			mtype    string
		)
		if err := rows.Scan(&m.ID, &pid, &m.Title, &m.Body, &m.LifeTheme, &triggers, &mtype, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.PassportID = domain.PassportID(pid)
		m.Triggers = []string(triggers)
		m.MemoryType = passport.MemoryType(mtype)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteMemories(ctx context.Context, passportID domain.PassportID) (int64, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM memories WHERE passport_id = $1`, uuid.UUID(passportID))
	if err != nil {
		return 0, fmt.Errorf("delete memories: %w", err)
	}
	return res.RowsAffected()
}
