// Package consent orchestrates the core: issuance, validation, revocation,
// and scope intersection. It owns the ordering guarantees: audit writes
// commit before any operation reports success, and every validation performs
// a fresh revocation read.
package consent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"katha/internal/audit"
	"katha/internal/jwttoken"
	"katha/internal/platform/metrics"
	"katha/internal/revocation"
	"katha/internal/token"
	domain "katha/pkg/domain"
	dErrors "katha/pkg/domain-errors"
	"katha/pkg/platform/tx"
)

// errUnauthorized is the single value every rejected validation returns, so
// forged, expired, and revoked tokens are indistinguishable to callers.
var errUnauthorized = dErrors.New(dErrors.CodeUnauthorized, "unauthorized")

// Service wires the issuer, validator, registry, and ledger together.
type Service struct {
	tokens     token.Store
	signer     *jwttoken.Service
	registry   *revocation.Registry
	ledger     *audit.Ledger
	runner     *tx.Runner
	notifier   revocation.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	defaultTTL time.Duration
	maxTTL     time.Duration
	clock      func() time.Time
}

// Config collects the service dependencies.
type Config struct {
	Tokens     token.Store
	Signer     *jwttoken.Service
	Registry   *revocation.Registry
	Ledger     *audit.Ledger
	Runner     *tx.Runner
	Notifier   revocation.Notifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	Clock      func() time.Time
}

// New constructs the consent service.
func New(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 90 * 24 * time.Hour
	}
	return &Service{
		tokens:     cfg.Tokens,
		signer:     cfg.Signer,
		registry:   cfg.Registry,
		ledger:     cfg.Ledger,
		runner:     cfg.Runner,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		defaultTTL: cfg.DefaultTTL,
		maxTTL:     cfg.MaxTTL,
		clock:      cfg.Clock,
	}
}

// Grant is what Issue returns: the signed token plus its handle and expiry,
// so callers can revoke and query expiry without re-parsing the token.
type Grant struct {
	Token     string             `json:"token"`
	TokenID   domain.TokenID     `json:"token_id"`
	SubjectID domain.SubjectID   `json:"subject_id"`
	Scopes    []string           `json:"scopes"`
	ExpiresAt time.Time          `json:"expires_at"`
	Terms     domain.Constraints `json:"constraints"`
}

// Issue mints a signed, scoped token for a subject. The token row and the
// consent_granted audit entry commit in one transaction; if either write
// fails nothing is issued.
//
// Errors: CodeBadRequest for an empty subject, empty or unsupported scopes,
// or a negative/oversized ttl. These are caller errors, never retried here.
func (s *Service) Issue(ctx context.Context, subjectID domain.SubjectID, scopes []string, ttl time.Duration, actor string) (*Grant, error) {
	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "subject id is required")
	}
	parsed, err := domain.ParseScopes(scopes)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "actor is required")
	}
	switch {
	case ttl == 0:
		ttl = s.defaultTTL
	case ttl < 0:
		return nil, dErrors.New(dErrors.CodeBadRequest, "ttl must be positive")
	case ttl > s.maxTTL:
		return nil, dErrors.New(dErrors.CodeBadRequest, "ttl exceeds maximum")
	}

	now := s.clock()
	record := &token.ConsentToken{
		ID:          domain.NewTokenID(),
		SubjectID:   subjectID,
		Scopes:      domain.ScopeStrings(parsed),
		Constraints: domain.SystemConstraints(),
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}

	signed, err := s.signer.Sign(record.ID, subjectID, record.Scopes, record.IssuedAt, record.ExpiresAt)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.tokens.Insert(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store token")
		}
		_, err := s.ledger.Append(ctx, &subjectID, audit.ActionConsentGranted, actor, map[string]any{
			"token_id":   record.ID.String(),
			"scopes":     record.Scopes,
			"expires_at": record.ExpiresAt,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
	}
	return &Grant{
		Token:     signed,
		TokenID:   record.ID,
		SubjectID: subjectID,
		Scopes:    record.Scopes,
		ExpiresAt: record.ExpiresAt,
		Terms:     record.Constraints,
	}, nil
}

// Validation is the successful outcome of Validate.
type Validation struct {
	TokenID     domain.TokenID     `json:"token_id"`
	SubjectID   domain.SubjectID   `json:"subject_id"`
	Scopes      []string           `json:"scopes"`
	Constraints domain.Constraints `json:"constraints"`
}

// Validate runs the full check pipeline in strict order: signature, temporal
// claims, then an uncached revocation read. The ordering matters:
// unsigned garbage never reaches storage, and a valid signature never skips
// the fresh revocation check.
//
// Every failure returns the same generic unauthorized error; the distinction
// between forged, expired, and revoked exists only in logs and metrics.
func (s *Service) Validate(ctx context.Context, tokenString string) (*Validation, error) {
	claims, err := s.signer.Verify(tokenString)
	if err != nil {
		switch {
		case errors.Is(err, jwttoken.ErrTokenExpired):
			s.observeValidation(metrics.OutcomeExpired)
		default:
			s.observeValidation(metrics.OutcomeBadSignature)
		}
		return nil, errUnauthorized
	}

	tokenID, err := domain.ParseTokenID(claims.ID)
	if err != nil {
		// A verifiable token without a usable id cannot be checked against
		// the registry, and an uncheckable token is a revoked token.
		s.observeValidation(metrics.OutcomeRevoked)
		return nil, errUnauthorized
	}

	revoked, err := s.registry.IsRevoked(ctx, tokenID)
	if err != nil {
		s.observeValidation(metrics.OutcomeError)
		s.logger.ErrorContext(ctx, "revocation lookup failed, failing closed",
			"token_id", tokenID.String(),
			"error", err,
		)
		return nil, errUnauthorized
	}
	if revoked {
		s.observeValidation(metrics.OutcomeRevoked)
		return nil, errUnauthorized
	}

	subjectID, err := domain.ParseSubjectID(claims.Subject)
	if err != nil {
		s.observeValidation(metrics.OutcomeBadSignature)
		return nil, errUnauthorized
	}

	s.observeValidation(metrics.OutcomeValid)
	return &Validation{
		TokenID:     tokenID,
		SubjectID:   subjectID,
		Scopes:      claims.Scopes,
		Constraints: claims.Constraints,
	}, nil
}

// RevokeResult reports what a revocation call did.
type RevokeResult struct {
	TokenID domain.TokenID     `json:"token_id"`
	Outcome revocation.Outcome `json:"outcome"`
}

// Revoke marks a token permanently unusable. The registry update and the
// audit entry commit in one transaction, so a revocation the caller was told
// about is always audited. Idempotent: repeat calls report already-revoked.
func (s *Service) Revoke(ctx context.Context, tokenID domain.TokenID, actor string) (*RevokeResult, error) {
	if tokenID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "token id is required")
	}
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "actor is required")
	}

	var outcome revocation.Outcome
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = s.registry.Revoke(ctx, tokenID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "revocation failed")
		}

		action := audit.ActionConsentRevoked
		var subjectID *domain.SubjectID
		if outcome == revocation.OutcomeNotFound {
			action = audit.ActionRevokeMissed
		} else if t, err := s.tokens.FindByID(ctx, tokenID); err == nil {
			subjectID = &t.SubjectID
		}

		_, err = s.ledger.Append(ctx, subjectID, action, actor, map[string]any{
			"token_id": tokenID.String(),
			"outcome":  string(outcome),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TokensRevoked.WithLabelValues(string(outcome)).Inc()
	}
	if outcome == revocation.OutcomeNewlyRevoked && s.notifier != nil {
		s.notifier.RevocationCommitted(ctx, tokenID)
	}
	return &RevokeResult{TokenID: tokenID, Outcome: outcome}, nil
}

// Intersect computes granted ∩ requested. Pure; an empty result is a valid
// outcome and the caller decides what it means.
func (s *Service) Intersect(granted, requested []string) []string {
	return domain.IntersectScopes(granted, requested)
}

// TokensForSubject lists a subject's full token history, including expired
// and revoked grants, for audit review.
func (s *Service) TokensForSubject(ctx context.Context, subjectID domain.SubjectID) ([]*token.ConsentToken, error) {
	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "subject id is required")
	}
	tokens, err := s.tokens.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tokens")
	}
	return tokens, nil
}

func (s *Service) observeValidation(outcome string) {
	if s.metrics != nil {
		s.metrics.Validations.WithLabelValues(outcome).Inc()
	}
}
