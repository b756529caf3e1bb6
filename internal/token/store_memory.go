package token

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "katha/pkg/domain"
	"katha/pkg/platform/sentinel"
)

// InMemoryStore is the test and development implementation. Each method is
// individually atomic under one mutex, matching the single-row atomicity the
// postgres store gets from the database.
type InMemoryStore struct {
	mu     sync.RWMutex
	tokens map[domain.TokenID]*ConsentToken
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[domain.TokenID]*ConsentToken)}
}

func (s *InMemoryStore) Insert(_ context.Context, t *ConsentToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[t.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.TokenID) (*ConsentToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID domain.SubjectID) ([]*ConsentToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ConsentToken
	for _, t := range s.tokens {
		if t.SubjectID == subjectID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (s *InMemoryStore) MarkRevoked(_ context.Context, id domain.TokenID, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if t.Revoked {
		return sentinel.ErrAlreadyRevoked
	}
	t.Revoked = true
	at := revokedAt
	t.RevokedAt = &at
	return nil
}

func (s *InMemoryStore) DeleteBySubject(_ context.Context, subjectID domain.SubjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tokens {
		if t.SubjectID == subjectID {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}
