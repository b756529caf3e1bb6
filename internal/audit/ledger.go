package audit

import (
	"context"
	"encoding/json"
	"time"

	"katha/internal/platform/metrics"
	domain "katha/pkg/domain"
	dErrors "katha/pkg/domain-errors"
	"katha/pkg/platform/tx"
)

// Pagination bounds enforced server-side regardless of caller input.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Streamer receives successfully persisted entries for downstream mirrors
// (compliance export). Delivery is best effort and strictly after the append
// is durable: inside a transaction the entry is streamed only once the
// transaction commits. The ledger's own contract is unaffected by a streamer
// failure.
type Streamer interface {
	EntryAppended(e *Entry)
}

// Ledger owns write access to the audit store. Components append through it
// exclusively, never via direct storage access.
type Ledger struct {
	store    Store
	streamer Streamer
	metrics  *metrics.Metrics
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStreamer attaches a post-append entry mirror.
func WithStreamer(s Streamer) Option {
	return func(l *Ledger) { l.streamer = s }
}

// WithMetrics attaches append counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// NewLedger constructs the ledger over a store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Append validates and writes one entry, returning the assigned sequence id.
// Callers must treat an error here as failure of their own operation: the
// system never reports success for an unaudited mutation.
//
// Errors: CodeBadRequest for an empty actor or an action outside the
// vocabulary; CodeInternal when the store write fails.
func (l *Ledger) Append(ctx context.Context, subjectID *domain.SubjectID, action Action, actor string, details any) (int64, error) {
	if !action.IsValid() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "unknown audit action: "+string(action))
	}
	if actor == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "actor is required")
	}

	var payload json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeBadRequest, "audit details not serializable")
		}
		payload = b
	}

	entry := &Entry{
		SubjectID: subjectID,
		Action:    action,
		Actor:     actor,
		Details:   payload,
		CreatedAt: time.Now(),
	}
	seq, err := l.store.Append(ctx, entry)
	if err != nil {
		if l.metrics != nil {
			l.metrics.AuditAppendFailed.Inc()
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "audit append failed")
	}
	if l.metrics != nil {
		l.metrics.AuditAppends.Inc()
	}
	entry.SequenceID = seq
	if l.streamer != nil {
		tx.AfterCommit(ctx, func() { l.streamer.EntryAppended(entry) })
	}
	return seq, nil
}

// Page is one page of the ledger, oldest first.
type Page struct {
	Entries []*Entry `json:"entries"`
	Total   int64    `json:"total"`
	Page    int      `json:"page"`
	Size    int      `json:"page_size"`
}

// List reads entries ordered by sequence id ascending. page and pageSize are
// clamped to sane bounds whatever the caller sends.
func (l *Ledger) List(ctx context.Context, subjectID *domain.SubjectID, page, pageSize int) (*Page, error) {
	page, pageSize = Clamp(page, pageSize)

	entries, total, err := l.store.List(ctx, subjectID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit list failed")
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return &Page{Entries: entries, Total: total, Page: page, Size: pageSize}, nil
}

// Clamp normalizes pagination input: page >= 1, 1 <= pageSize <= MaxPageSize,
// zero pageSize falling back to the default.
func Clamp(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
