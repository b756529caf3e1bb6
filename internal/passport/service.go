package passport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"katha/internal/audit"
	"katha/internal/token"
	domain "katha/pkg/domain"
	dErrors "katha/pkg/domain-errors"
	"katha/pkg/platform/sentinel"
	"katha/pkg/platform/tx"
)

// errPassportNotFound is the one not-found error this package surfaces.
// Lookups never reveal in error text whether an id exists.
var errPassportNotFound = dErrors.New(dErrors.CodeNotFound, "passport not found")

// Service orchestrates passport storage, including the transactional
// delete-cascade over a subject's dependent records.
type Service struct {
	store  Store
	tokens token.Store
	ledger *audit.Ledger
	runner *tx.Runner
	logger *slog.Logger
	clock  func() time.Time
}

func NewService(store Store, tokens token.Store, ledger *audit.Ledger, runner *tx.Runner, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		ledger: ledger,
		runner: runner,
		logger: logger,
		clock:  time.Now,
	}
}

// Create registers a new passport and audits the creation before returning.
func (s *Service) Create(ctx context.Context, familyName, persona, actor string) (*Passport, error) {
	if familyName == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "family name is required")
	}
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "actor is required")
	}

	p := &Passport{
		ID:         domain.NewPassportID(),
		FamilyName: familyName,
		Persona:    persona,
		CreatedAt:  s.clock(),
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreatePassport(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create passport")
		}
		subjectID := p.SubjectID()
		_, err := s.ledger.Append(ctx, &subjectID, audit.ActionPassportCreated, actor, map[string]any{
			"passport_id": p.ID.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a passport by id.
func (s *Service) Get(ctx context.Context, id domain.PassportID) (*Passport, error) {
	p, err := s.store.FindPassport(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, errPassportNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load passport")
	}
	return p, nil
}

// AddMemory stores a memory record under a passport.
func (s *Service) AddMemory(ctx context.Context, passportID domain.PassportID, title, body, lifeTheme string, triggers []string, memoryType string, actor string) (*MemoryRecord, error) {
	if title == "" || body == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "title and body are required")
	}
	mtype, err := ParseMemoryType(memoryType)
	if err != nil {
		return nil, err
	}

	m := &MemoryRecord{
		ID:         uuid.New(),
		PassportID: passportID,
		Title:      title,
		Body:       body,
		LifeTheme:  lifeTheme,
		Triggers:   triggers,
		MemoryType: mtype,
		CreatedAt:  s.clock(),
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.AddMemory(ctx, m); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return errPassportNotFound
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store memory")
		}
		subjectID := domain.SubjectID(uuid.UUID(passportID))
		_, err := s.ledger.Append(ctx, &subjectID, audit.ActionMemoryAdded, actor, map[string]any{
			"memory_id":   m.ID.String(),
			"memory_type": string(m.MemoryType),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMemories returns a passport's memories, oldest first.
func (s *Service) ListMemories(ctx context.Context, passportID domain.PassportID) ([]*MemoryRecord, error) {
	if _, err := s.Get(ctx, passportID); err != nil {
		return nil, err
	}
	memories, err := s.store.ListMemories(ctx, passportID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list memories")
	}
	return memories, nil
}

// Delete removes a passport and everything dependent on it (memories and
// consent tokens) in one transaction, then audits the removal. Audit
// entries about the subject are deliberately retained; the ledger is
// append-only and survives its subjects.
func (s *Service) Delete(ctx context.Context, id domain.PassportID, actor string) error {
	if actor == "" {
		return dErrors.New(dErrors.CodeBadRequest, "actor is required")
	}

	subjectID := domain.SubjectID(uuid.UUID(id))
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		memories, err := s.store.DeleteMemories(ctx, id)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete memories")
		}
		tokens, err := s.tokens.DeleteBySubject(ctx, subjectID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete tokens")
		}
		if err := s.store.DeletePassport(ctx, id); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return errPassportNotFound
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete passport")
		}

		_, err = s.ledger.Append(ctx, &subjectID, audit.ActionPassportDeleted, actor, map[string]any{
			"memories_deleted": memories,
			"tokens_deleted":   tokens,
		})
		return err
	})
}
