//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"katha/internal/token"
	domain "katha/pkg/domain"
	"katha/pkg/platform/sentinel"
	"katha/pkg/testutil/containers"
)

func newIntegrationStore(t *testing.T) (*Store, *containers.PostgresContainer) {
	t.Helper()
	pg := containers.NewPostgresContainer(t)
	return New(pg.DB), pg
}

func makeToken(subjectID domain.SubjectID) *token.ConsentToken {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &token.ConsentToken{
		ID:          domain.NewTokenID(),
		SubjectID:   subjectID,
		Scopes:      []string{"read:memories", "write:memories"},
		Constraints: domain.SystemConstraints(),
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestPostgresTokenStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newIntegrationStore(t)

	tok := makeToken(domain.NewSubjectID())
	require.NoError(t, store.Insert(ctx, tok))
	assert.ErrorIs(t, store.Insert(ctx, tok), sentinel.ErrConflict)

	got, err := store.FindByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)
	assert.Equal(t, tok.SubjectID, got.SubjectID)
	assert.Equal(t, tok.Scopes, got.Scopes)
	assert.Equal(t, tok.Constraints, got.Constraints)
	assert.False(t, got.Revoked)
	assert.Nil(t, got.RevokedAt)
	assert.WithinDuration(t, tok.IssuedAt, got.IssuedAt, time.Millisecond)

	_, err = store.FindByID(ctx, domain.NewTokenID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresTokenStoreListBySubject(t *testing.T) {
	ctx := context.Background()
	store, _ := newIntegrationStore(t)
	subject := domain.NewSubjectID()

	older := makeToken(subject)
	older.IssuedAt = older.IssuedAt.Add(-time.Hour)
	newer := makeToken(subject)
	require.NoError(t, store.Insert(ctx, older))
	require.NoError(t, store.Insert(ctx, newer))
	require.NoError(t, store.Insert(ctx, makeToken(domain.NewSubjectID())))

	got, err := store.ListBySubject(ctx, subject)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
}

func TestPostgresTokenStoreMarkRevoked(t *testing.T) {
	ctx := context.Background()
	store, _ := newIntegrationStore(t)

	tok := makeToken(domain.NewSubjectID())
	require.NoError(t, store.Insert(ctx, tok))

	revokedAt := time.Now().UTC()
	require.NoError(t, store.MarkRevoked(ctx, tok.ID, revokedAt))

	got, err := store.FindByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	require.NotNil(t, got.RevokedAt)

	assert.ErrorIs(t, store.MarkRevoked(ctx, tok.ID, time.Now()), sentinel.ErrAlreadyRevoked)
	assert.ErrorIs(t, store.MarkRevoked(ctx, domain.NewTokenID(), time.Now()), sentinel.ErrNotFound)
}

func TestPostgresTokenStoreConcurrentRevokes(t *testing.T) {
	ctx := context.Background()
	store, _ := newIntegrationStore(t)

	tok := makeToken(domain.NewSubjectID())
	require.NoError(t, store.Insert(ctx, tok))

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.MarkRevoked(ctx, tok.ID, time.Now())
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			assert.ErrorIs(t, err, sentinel.ErrAlreadyRevoked)
		}
	}
	assert.Equal(t, 1, wins, "exactly one revoke commits first")
}

func TestPostgresTokenStoreDeleteBySubject(t *testing.T) {
	ctx := context.Background()
	store, _ := newIntegrationStore(t)
	subject := domain.NewSubjectID()

	require.NoError(t, store.Insert(ctx, makeToken(subject)))
	require.NoError(t, store.Insert(ctx, makeToken(subject)))
	keep := makeToken(domain.NewSubjectID())
	require.NoError(t, store.Insert(ctx, keep))

	n, err := store.DeleteBySubject(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.FindByID(ctx, keep.ID)
	assert.NoError(t, err)
}
