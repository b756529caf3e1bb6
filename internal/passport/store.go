package passport

import (
	"context"

	domain "katha/pkg/domain"
)

// Store persists passports and memories. Implementations return sentinel
// errors; the service translates them without leaking record existence.
type Store interface {
	CreatePassport(ctx context.Context, p *Passport) error
	FindPassport(ctx context.Context, id domain.PassportID) (*Passport, error)
	// DeletePassport removes the passport row only; the service owns the
	// cascade over memories and tokens inside one transaction.
	DeletePassport(ctx context.Context, id domain.PassportID) error

	AddMemory(ctx context.Context, m *MemoryRecord) error
	ListMemories(ctx context.Context, passportID domain.PassportID) ([]*MemoryRecord, error)
	DeleteMemories(ctx context.Context, passportID domain.PassportID) (int64, error)
}
