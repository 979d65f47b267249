package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/auth/domain"
	autherror "github.com/wardenlabs/warden/internal/errors"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func userColumns() []string {
	return []string{"id", "email", "display_name", "role", "password_hash", "password_changed_at",
		"password_history", "active", "failed_attempts", "locked_until", "created_at", "updated_at"}
}

func TestUserRepository_GetByEmail(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE email = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows(userColumns()).
			AddRow("user-1", "alice@example.com", "Alice", "user", "$2a$12$hash", now,
				[]string{"$2a$12$old"}, true, 0, (*time.Time)(nil), now, now))

	user, err := repo.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, []string{"$2a$12$old"}, user.PasswordHistory)
	assert.Nil(t, user.LockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByEmailNotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE email = \$1`).
		WithArgs("nobody@example.com").
		WillReturnRows(pgxmock.NewRows(userColumns()))

	user, err := repo.GetByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err, "a missing user is not an error")
	assert.Nil(t, user)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)
	now := time.Now()

	user := &domain.User{
		ID:                "user-1",
		Email:             "alice@example.com",
		DisplayName:       "Alice",
		Role:              "user",
		PasswordHash:      "$2a$12$hash",
		PasswordChangedAt: now,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(user.ID, user.Email, user.DisplayName, user.Role, user.PasswordHash,
			user.PasswordChangedAt, user.PasswordHistory, user.Active, user.FailedAttempts,
			user.LockedUntil, user.CreatedAt, user.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), user))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_RecordLoginAttempt(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectExec(`INSERT INTO login_attempts`).
		WithArgs("alice@example.com", "203.0.113.10", false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.RecordLoginAttempt(context.Background(), "alice@example.com", "203.0.113.10", false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CountRecentFailedAttempts(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)
	since := time.Now().Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM login_attempts`).
		WithArgs("alice@example.com", since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountRecentFailedAttempts(context.Background(), "alice@example.com", since)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_UpsertTrustedDevice(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectExec(`INSERT INTO trusted_devices`).
		WithArgs("user-1", "fp-1", "Mozilla/5.0", "203.0.113.10").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertTrustedDevice(context.Background(), "user-1", "fp-1", "Mozilla/5.0", "203.0.113.10"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func sessionColumnNames() []string {
	return []string{"id", "user_id", "role", "created_at", "last_activity", "expires_at",
		"last_rotated_at", "rotation_count", "device_fingerprint", "ip_address", "user_agent",
		"latitude", "longitude", "has_geo", "anomaly_score", "active"}
}

func TestSessionRepository_Get(t *testing.T) {
	mock := newMockPool(t)
	repo := NewSessionRepository(mock)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM sessions WHERE id = \$1`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows(sessionColumnNames()).
			AddRow("sess-1", "user-1", "user", now, now, now.Add(12*time.Hour),
				now, 0, "fp-1", "203.0.113.10", "Mozilla/5.0", 52.37, 4.89, true, 0, true))

	session, err := repo.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "user-1", session.UserID)
	assert.True(t, session.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_GetNotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewSessionRepository(mock)

	mock.ExpectQuery(`SELECT (.+) FROM sessions WHERE id = \$1`).
		WithArgs("no-such-session").
		WillReturnRows(pgxmock.NewRows(sessionColumnNames()))

	session, err := repo.Get(context.Background(), "no-such-session")
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_ReplaceID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewSessionRepository(mock)

	mock.ExpectExec(`UPDATE sessions SET id = \$2 WHERE id = \$1`).
		WithArgs("old-id", "new-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.ReplaceID(context.Background(), "old-id", "new-id"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_ReplaceIDMissingOldID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewSessionRepository(mock)

	mock.ExpectExec(`UPDATE sessions SET id = \$2 WHERE id = \$1`).
		WithArgs("already-rotated", "new-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.ReplaceID(context.Background(), "already-rotated", "new-id")
	assert.ErrorIs(t, err, autherror.ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	mock := newMockPool(t)
	repo := NewSessionRepository(mock)
	now := time.Now()

	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at < \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	removed, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockoutRepository_PutUpserts(t *testing.T) {
	mock := newMockPool(t)
	repo := NewLockoutRepository(mock)
	now := time.Now()
	until := now.Add(15 * time.Minute)

	rec := &domain.LockoutRecord{
		Identifier:          "alice@example.com",
		Failures:            []time.Time{now},
		LockedUntil:         &until,
		ConsecutiveLockouts: 1,
	}

	mock.ExpectExec(`INSERT INTO lockout_records`).
		WithArgs(rec.Identifier, rec.Failures, rec.LockedUntil, rec.ConsecutiveLockouts, rec.LastLockExpiredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Put(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockoutRepository_GetRoundTrip(t *testing.T) {
	mock := newMockPool(t)
	repo := NewLockoutRepository(mock)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM lockout_records WHERE identifier = \$1`).
		WithArgs("ip:203.0.113.10").
		WillReturnRows(pgxmock.NewRows([]string{"identifier", "failures", "locked_until",
			"consecutive_lockouts", "last_lock_expired_at"}).
			AddRow("ip:203.0.113.10", []time.Time{now}, (*time.Time)(nil), 0, (*time.Time)(nil)))

	rec, err := repo.Get(context.Background(), "ip:203.0.113.10")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Failures, 1)
	assert.Nil(t, rec.LockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockoutRepository_Delete(t *testing.T) {
	mock := newMockPool(t)
	repo := NewLockoutRepository(mock)

	mock.ExpectExec(`DELETE FROM lockout_records WHERE identifier = \$1`).
		WithArgs("alice@example.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, repo.Delete(context.Background(), "alice@example.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
