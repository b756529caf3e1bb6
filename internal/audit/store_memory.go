package audit

import (
	"context"
	"sync"
	"time"

	domain "katha/pkg/domain"
)

// InMemoryStore keeps the ledger in a slice. The mutex makes each append an
// atomic unit, so sequence ids stay strictly increasing under concurrency.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	nextSeq int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextSeq: 1}
}

func (s *InMemoryStore) Append(_ context.Context, e *Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	cp.SequenceID = s.nextSeq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.nextSeq++
	s.entries = append(s.entries, &cp)
	return cp.SequenceID, nil
}

func (s *InMemoryStore) List(_ context.Context, subjectID *domain.SubjectID, offset, limit int) ([]*Entry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Entry
	for _, e := range s.entries {
		if subjectID != nil && (e.SubjectID == nil || *e.SubjectID != *subjectID) {
			continue
		}
		matched = append(matched, e)
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*Entry, 0, end-offset)
	for _, e := range matched[offset:end] {
		cp := *e
		out = append(out, &cp)
	}
	return out, total, nil
}
