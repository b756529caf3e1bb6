// Package revocation is the authority on whether a consent token is still
// usable. Every question is answered from durable storage on the spot; there
// is deliberately no cache anywhere in this package, because the product
// guarantee is that revocation takes effect on the very next request.
package revocation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"katha/internal/token"
	domain "katha/pkg/domain"
	"katha/pkg/platform/sentinel"
)

var lookupDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "katha_revocation_lookup_duration_ms",
	Help:    "Latency of revocation status lookups in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// Outcome describes what a revoke call did.
type Outcome string

const (
	OutcomeNewlyRevoked   Outcome = "newly-revoked"
	OutcomeAlreadyRevoked Outcome = "already-revoked"
	OutcomeNotFound       Outcome = "not-found"
)

// Notifier is told about committed revocations so collaborators can react
// (close streams, drop grants). Notification is strictly after commit and
// best effort; nothing ever reads it back for an authorization decision.
type Notifier interface {
	RevocationCommitted(ctx context.Context, tokenID domain.TokenID)
}

// Registry answers revocation questions against the token store.
type Registry struct {
	store  token.Store
	logger *slog.Logger
	clock  func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New constructs the registry.
func New(store token.Store, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{store: store, logger: logger, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Revoke marks the token permanently unusable. Idempotent: revoking an
// already-revoked token succeeds and reports OutcomeAlreadyRevoked; retries
// are always safe. Unknown ids report OutcomeNotFound distinctly so callers
// can audit accurately.
func (r *Registry) Revoke(ctx context.Context, id domain.TokenID) (Outcome, error) {
	err := r.store.MarkRevoked(ctx, id, r.clock())
	switch {
	case err == nil:
		return OutcomeNewlyRevoked, nil
	case errors.Is(err, sentinel.ErrAlreadyRevoked):
		return OutcomeAlreadyRevoked, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return OutcomeNotFound, nil
	default:
		return "", err
	}
}

// IsRevoked reports whether the token may still be honored. Fail closed: an
// unknown identifier returns true, and a storage failure returns true along
// with the error so no caller can mistake uncertainty for validity.
func (r *Registry) IsRevoked(ctx context.Context, id domain.TokenID) (bool, error) {
	start := time.Now()
	defer func() {
		lookupDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	t, err := r.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return true, nil
		}
		return true, err
	}
	return t.Revoked, nil
}
