package consent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"katha/internal/audit"
	"katha/internal/jwttoken"
	"katha/internal/keys"
	"katha/internal/revocation"
	"katha/internal/token"
	domain "katha/pkg/domain"
	dErrors "katha/pkg/domain-errors"
)

type testEnv struct {
	service    *Service
	tokens     *spyTokenStore
	auditStore *audit.InMemoryStore
	ledger     *audit.Ledger
	notifier   *spyNotifier
	signer     *jwttoken.Service
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	material, err := keys.GenerateEphemeral("test-key-1")
	require.NoError(t, err)
	signer := jwttoken.New(material, "katha-consent-core", "katha-vault")

	tokens := &spyTokenStore{InMemoryStore: token.NewInMemoryStore()}
	auditStore := audit.NewInMemoryStore()
	ledger := audit.NewLedger(auditStore)
	notifier := &spyNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := Config{
		Tokens:     tokens,
		Signer:     signer,
		Registry:   revocation.New(tokens, logger),
		Ledger:     ledger,
		Notifier:   notifier,
		Logger:     logger,
		DefaultTTL: 24 * time.Hour,
		MaxTTL:     90 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testEnv{
		service:    New(cfg),
		tokens:     tokens,
		auditStore: auditStore,
		ledger:     ledger,
		notifier:   notifier,
		signer:     signer,
	}
}

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	subject := domain.NewSubjectID()

	grant, err := env.service.Issue(ctx, subject, []string{"read:memories", "write:memories"}, time.Hour, "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, grant.Token)
	assert.Equal(t, subject, grant.SubjectID)
	assert.Equal(t, []string{"read:memories", "write:memories"}, grant.Scopes)
	assert.True(t, grant.Terms.NoTraining)

	validation, err := env.service.Validate(ctx, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, grant.TokenID, validation.TokenID)
	assert.Equal(t, subject, validation.SubjectID)
	assert.Equal(t, grant.Scopes, validation.Scopes)
	assert.True(t, validation.Constraints.ZeroRetention)
}

func TestIssueRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	subject := domain.NewSubjectID()

	tests := []struct {
		name string
		call func() error
	}{
		{"nil subject", func() error {
			_, err := env.service.Issue(ctx, domain.SubjectID{}, []string{"read:memories"}, time.Hour, "admin")
			return err
		}},
		{"empty scopes", func() error {
			_, err := env.service.Issue(ctx, subject, nil, time.Hour, "admin")
			return err
		}},
		{"unknown scope", func() error {
			_, err := env.service.Issue(ctx, subject, []string{"root:everything"}, time.Hour, "admin")
			return err
		}},
		{"empty actor", func() error {
			_, err := env.service.Issue(ctx, subject, []string{"read:memories"}, time.Hour, "")
			return err
		}},
		{"negative ttl", func() error {
			_, err := env.service.Issue(ctx, subject, []string{"read:memories"}, -time.Hour, "admin")
			return err
		}},
		{"oversized ttl", func() error {
			_, err := env.service.Issue(ctx, subject, []string{"read:memories"}, 400*24*time.Hour, "admin")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest), "got %v", err)
		})
	}

	// Nothing was stored or audited for rejected requests.
	page, err := env.ledger.List(ctx, nil, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestIssueZeroTTLUsesDefault(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	subject := domain.NewSubjectID()

	grant, err := env.service.Issue(ctx, subject, []string{"read:memories"}, 0, "admin")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), grant.ExpiresAt, time.Minute)
}

func TestIssueWritesAuditEntry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	subject := domain.NewSubjectID()

	grant, err := env.service.Issue(ctx, subject, []string{"read:memories"}, time.Hour, "admin")
	require.NoError(t, err)

	page, err := env.ledger.List(ctx, &subject, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, audit.ActionConsentGranted, page.Entries[0].Action)
	assert.Equal(t, "admin", page.Entries[0].Actor)
	assert.Contains(t, string(page.Entries[0].Details), grant.TokenID.String())
}

func TestIssueFailsWhenAuditFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Ledger = audit.NewLedger(&failingAuditStore{})
	})

	_, err := env.service.Issue(ctx, domain.NewSubjectID(), []string{"read:memories"}, time.Hour, "admin")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal), "got %v", err)
}

func TestValidateRejectionsAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	subject := domain.NewSubjectID()

	grant, err := env.service.Issue(ctx, subject, []string{"read:memories"}, time.Hour, "admin")
	require.NoError(t, err)
	_, err = env.service.Revoke(ctx, grant.TokenID, "admin")
	require.NoError(t, err)
	_, revokedErr := env.service.Validate(ctx, grant.Token)

	otherMaterial, err := keys.GenerateEphemeral("other-key")
	require.NoError(t, err)
	forger := jwttoken.New(otherMaterial, "katha-consent-core", "katha-vault")
	forged, err := forger.Sign(domain.NewTokenID(), subject, []string{"read:memories"}, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, forgedErr := env.service.Validate(ctx, forged)

	expired, err := env.signer.Sign(domain.NewTokenID(), subject, []string{"read:memories"}, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, expiredErr := env.service.Validate(ctx, expired)

	_, garbageErr := env.service.Validate(ctx, "not-a-token")

	for _, err := range []error{revokedErr, forgedErr, expiredErr, garbageErr} {
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.EqualError(t, err, revokedErr.Error())
	}
}

func TestValidateForgedTokenNeverReachesStorage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	otherMaterial, err := keys.GenerateEphemeral("other-key")
	require.NoError(t, err)
	forger := jwttoken.New(otherMaterial, "katha-consent-core", "katha-vault")
	forged, err := forger.Sign(domain.NewTokenID(), domain.NewSubjectID(), []string{"read:memories"}, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	env.tokens.resetCounts()
	_, err = env.service.Validate(ctx, forged)
	require.Error(t, err)
	assert.Zero(t, env.tokens.findCalls, "revocation lookup ran for a forged token")

	_, err = env.service.Validate(ctx, "garbage")
	require.Error(t, err)
	assert.Zero(t, env.tokens.findCalls)
}

func TestValidateUnknownTokenIDFailsClosed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// Properly signed, never stored. The registry has no row, so the fail
	// closed rule rejects it.
	signed, err := env.signer.Sign(domain.NewTokenID(), domain.NewSubjectID(), []string{"read:memories"}, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = env.service.Validate(ctx, signed)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateStorageFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	subject := domain.NewSubjectID()

	grant, err := env.service.Issue(ctx, subject, []string{"read:memories"}, time.Hour, "admin")
	require.NoError(t, err)

	env.tokens.failFinds = true
	_, err = env.service.Validate(ctx, grant.Token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestRevokeOutcomesAndAudit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	subject := domain.NewSubjectID()

	grant, err := env.service.Issue(ctx, subject, []string{"read:memories"}, time.Hour, "admin")
	require.NoError(t, err)

	result, err := env.service.Revoke(ctx, grant.TokenID, "admin")
	require.NoError(t, err)
	assert.Equal(t, revocation.OutcomeNewlyRevoked, result.Outcome)

	result, err = env.service.Revoke(ctx, grant.TokenID, "admin")
	require.NoError(t, err)
	assert.Equal(t, revocation.OutcomeAlreadyRevoked, result.Outcome)

	page, err := env.ledger.List(ctx, &subject, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, audit.ActionConsentGranted, page.Entries[0].Action)
	assert.Equal(t, audit.ActionConsentRevoked, page.Entries[1].Action)
	assert.Equal(t, audit.ActionConsentRevoked, page.Entries[2].Action)
	assert.Less(t, page.Entries[0].SequenceID, page.Entries[1].SequenceID)
	assert.Less(t, page.Entries[1].SequenceID, page.Entries[2].SequenceID)
}

func TestRevokeUnknownTokenAuditsMiss(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	result, err := env.service.Revoke(ctx, domain.NewTokenID(), "admin")
	require.NoError(t, err)
	assert.Equal(t, revocation.OutcomeNotFound, result.Outcome)

	page, err := env.ledger.List(ctx, nil, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, audit.ActionRevokeMissed, page.Entries[0].Action)
	assert.Nil(t, page.Entries[0].SubjectID)
}

func TestRevokeNotifiesOnlyOnNewRevocation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	grant, err := env.service.Issue(ctx, domain.NewSubjectID(), []string{"read:memories"}, time.Hour, "admin")
	require.NoError(t, err)

	_, err = env.service.Revoke(ctx, grant.TokenID, "admin")
	require.NoError(t, err)
	_, err = env.service.Revoke(ctx, grant.TokenID, "admin")
	require.NoError(t, err)
	_, err = env.service.Revoke(ctx, domain.NewTokenID(), "admin")
	require.NoError(t, err)

	require.Len(t, env.notifier.notified, 1)
	assert.Equal(t, grant.TokenID, env.notifier.notified[0])
}

func TestRevokeTakesEffectOnNextValidate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	grant, err := env.service.Issue(ctx, domain.NewSubjectID(), []string{"read:memories"}, time.Hour, "admin")
	require.NoError(t, err)

	_, err = env.service.Validate(ctx, grant.Token)
	require.NoError(t, err)

	_, err = env.service.Revoke(ctx, grant.TokenID, "admin")
	require.NoError(t, err)

	_, err = env.service.Validate(ctx, grant.Token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestTokensForSubject(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	subject := domain.NewSubjectID()

	first, err := env.service.Issue(ctx, subject, []string{"read:memories"}, time.Hour, "admin")
	require.NoError(t, err)
	_, err = env.service.Revoke(ctx, first.TokenID, "admin")
	require.NoError(t, err)
	_, err = env.service.Issue(ctx, subject, []string{"write:memories"}, time.Hour, "admin")
	require.NoError(t, err)

	history, err := env.service.TokensForSubject(ctx, subject)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

// spyTokenStore wraps the memory store with call counting and injectable read
// failures.
type spyTokenStore struct {
	*token.InMemoryStore
	findCalls int
	failFinds bool
}

func (s *spyTokenStore) resetCounts() { s.findCalls = 0 }

func (s *spyTokenStore) FindByID(ctx context.Context, id domain.TokenID) (*token.ConsentToken, error) {
	s.findCalls++
	if s.failFinds {
		return nil, errors.New("store down")
	}
	return s.InMemoryStore.FindByID(ctx, id)
}

type spyNotifier struct {
	notified []domain.TokenID
}

func (s *spyNotifier) RevocationCommitted(_ context.Context, tokenID domain.TokenID) {
	s.notified = append(s.notified, tokenID)
}

type failingAuditStore struct{}

func (f *failingAuditStore) Append(context.Context, *audit.Entry) (int64, error) {
	return 0, errors.New("store down")
}
func (f *failingAuditStore) List(context.Context, *domain.SubjectID, int, int) ([]*audit.Entry, int64, error) {
	return nil, 0, errors.New("store down")
}
