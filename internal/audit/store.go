package audit

import (
	"context"

	domain "katha/pkg/domain"
)

// Store persists ledger entries. The contract is append and read only; no
// implementation exposes update or delete.
type Store interface {
	// Append writes the entry and returns the store-assigned sequence id.
	// Sequence ids are strictly increasing and never reused, including under
	// concurrent appends.
	Append(ctx context.Context, e *Entry) (int64, error)

	// List returns entries ordered by sequence id ascending, filtered by
	// subject when subjectID is non-nil, with the total matching count.
	List(ctx context.Context, subjectID *domain.SubjectID, offset, limit int) ([]*Entry, int64, error)
}
