package passport

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	domain "katha/pkg/domain"
	"katha/pkg/platform/sentinel"
)

// InMemoryStore is the test and development implementation.
type InMemoryStore struct {
	mu        sync.RWMutex
	passports map[domain.PassportID]*Passport
	memories  map[uuid.UUID]*MemoryRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		passports: make(map[domain.PassportID]*Passport),
		memories:  make(map[uuid.UUID]*MemoryRecord),
	}
}

func (s *InMemoryStore) CreatePassport(_ context.Context, p *Passport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.passports[p.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *p
	s.passports[p.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindPassport(_ context.Context, id domain.PassportID) (*Passport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.passports[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) DeletePassport(_ context.Context, id domain.PassportID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.passports[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.passports, id)
	return nil
}

func (s *InMemoryStore) AddMemory(_ context.Context, m *MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.passports[m.PassportID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *m
	s.memories[m.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListMemories(_ context.Context, passportID domain.PassportID) ([]*MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*MemoryRecord
	for _, m := range s.memories {
		if m.PassportID == passportID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) DeleteMemories(_ context.Context, passportID domain.PassportID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.memories {
		if m.PassportID == passportID {
			delete(s.memories, id)
			n++
		}
	}
	return n, nil
}
