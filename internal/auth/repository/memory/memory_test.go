package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/auth/domain"
	autherror "github.com/wardenlabs/warden/internal/errors"
)

func TestUserRepository_UpdateReindexesEmail(t *testing.T) {
	repo := NewUserRepository()
	ctx := context.Background()

	user := &domain.User{ID: "user-1", Email: "old@example.com", Active: true}
	require.NoError(t, repo.Create(ctx, user))

	user.Email = "new@example.com"
	require.NoError(t, repo.Update(ctx, user))

	stale, err := repo.GetByEmail(ctx, "old@example.com")
	require.NoError(t, err)
	assert.Nil(t, stale, "the old address must not resolve after a change")

	current, err := repo.GetByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "user-1", current.ID)
}

func TestUserRepository_CountRecentFailedAttemptsResetsOnSuccess(t *testing.T) {
	repo := NewUserRepository()
	ctx := context.Background()
	since := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordLoginAttempt(ctx, "alice@example.com", "203.0.113.4", false))
	}
	require.NoError(t, repo.RecordLoginAttempt(ctx, "alice@example.com", "203.0.113.4", true))
	require.NoError(t, repo.RecordLoginAttempt(ctx, "alice@example.com", "203.0.113.4", false))

	count, err := repo.CountRecentFailedAttempts(ctx, "alice@example.com", since)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only failures after the last success count")
}

func TestSessionRepository_ReplaceIDMissingOldID(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()

	err := repo.ReplaceID(ctx, "already-rotated", "new-id")
	assert.ErrorIs(t, err, autherror.ErrSessionNotFound)

	s, err := repo.Get(ctx, "new-id")
	require.NoError(t, err)
	assert.Nil(t, s, "a failed rekey must not create a record")
}
