package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
	"github.com/pierregrothe/graphrag-api-sub000/internal/repository/postgres"
	"github.com/pierregrothe/graphrag-api-sub000/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedSession(t *testing.T, db *gorm.DB, hash string) *domain.Session {
	t.Helper()

	user, _ := testutil.NewUserBuilder().Build(t, db)
	session := &domain.Session{
		ID:               uuid.New(),
		UserID:           user.ID,
		RefreshTokenHash: hash,
		ExpiresAt:        time.Now().Add(time.Hour),
		CreatedAt:        time.Now(),
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

func nextSession(hash string) *domain.Session {
	return &domain.Session{
		ID:               uuid.New(),
		RefreshTokenHash: hash,
		ExpiresAt:        time.Now().Add(time.Hour),
		CreatedAt:        time.Now(),
	}
}

func TestSessionRepository_Rotate(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := postgres.NewSessionRepository(tdb.DB)
	ctx := context.Background()

	session := seedSession(t, tdb.DB, "hash-a")

	old, err := repo.Rotate(ctx, session.ID, "hash-a", nextSession("hash-b"))
	require.NoError(t, err)
	assert.Equal(t, session.ID, old.ID)
	assert.Equal(t, session.UserID, old.UserID)

	// The consumed session stays revoked; a second rotation finds nothing.
	_, err = repo.Rotate(ctx, session.ID, "hash-a", nextSession("hash-c"))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSessionRepository_RotateWrongHash(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := postgres.NewSessionRepository(tdb.DB)
	ctx := context.Background()

	session := seedSession(t, tdb.DB, "hash-a")

	_, err := repo.Rotate(ctx, session.ID, "wrong-hash", nextSession("hash-b"))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// A failed rotation must not revoke the session.
	var live domain.Session
	require.NoError(t, tdb.DB.First(&live, "id = ?", session.ID).Error)
	assert.False(t, live.Revoked)
}

func TestSessionRepository_RotateExpired(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := postgres.NewSessionRepository(tdb.DB)
	ctx := context.Background()

	session := seedSession(t, tdb.DB, "hash-a")
	require.NoError(t, tdb.DB.Model(&domain.Session{}).
		Where("id = ?", session.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	_, err := repo.Rotate(ctx, session.ID, "hash-a", nextSession("hash-b"))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSessionRepository_RotateConcurrent(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := postgres.NewSessionRepository(tdb.DB)
	ctx := context.Background()

	session := seedSession(t, tdb.DB, "hash-a")

	const racers = 10
	results := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = repo.Rotate(ctx, session.ID, "hash-a", nextSession(uuid.New().String()))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.True(t, errors.Is(err, gorm.ErrRecordNotFound), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners, "exactly one rotation may win")
}

func TestSessionRepository_RevokeByUserID(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := postgres.NewSessionRepository(tdb.DB)
	ctx := context.Background()

	session := seedSession(t, tdb.DB, "hash-a")
	other := seedSession(t, tdb.DB, "hash-b")

	require.NoError(t, repo.RevokeByUserID(ctx, session.UserID))

	var revoked domain.Session
	require.NoError(t, tdb.DB.First(&revoked, "id = ?", session.ID).Error)
	assert.True(t, revoked.Revoked)

	// Other users' sessions are untouched.
	var untouched domain.Session
	require.NoError(t, tdb.DB.First(&untouched, "id = ?", other.ID).Error)
	assert.False(t, untouched.Revoked)
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := postgres.NewSessionRepository(tdb.DB)
	ctx := context.Background()

	live := seedSession(t, tdb.DB, "hash-live")
	stale := seedSession(t, tdb.DB, "hash-stale")
	require.NoError(t, tdb.DB.Model(&domain.Session{}).
		Where("id = ?", stale.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	require.NoError(t, repo.DeleteExpired(ctx, time.Now()))

	var count int64
	require.NoError(t, tdb.DB.Model(&domain.Session{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var remaining domain.Session
	require.NoError(t, tdb.DB.First(&remaining, "id = ?", live.ID).Error)
}
