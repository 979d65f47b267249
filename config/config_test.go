package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("ACCESS_TOKEN_SECRET", "test-access-secret")
	t.Setenv("REFRESH_TOKEN_SECRET", "test-refresh-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredSecrets(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 12, cfg.Password.MinLength)
	assert.Equal(t, 5, cfg.Lockout.AccountThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Lockout.AccountWindow)
	assert.Equal(t, 10, cfg.Lockout.IPThreshold)
	assert.Equal(t, time.Hour, cfg.Lockout.IPWindow)
	assert.Equal(t, 3, cfg.Session.MaxConcurrentSessions)
	assert.Equal(t, 10, cfg.Mfa.BackupCodeCount)
	assert.Equal(t, 2, cfg.Mfa.DriftSteps)
	assert.Equal(t, 15*time.Minute, cfg.Token.AccessExpiry)
	assert.Equal(t, 12, cfg.BcryptCost)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("PORT", "9090")
	t.Setenv("PASSWORD_MIN_LENGTH", "16")
	t.Setenv("LOCKOUT_ACCOUNT_BASE", "30m")
	t.Setenv("SESSION_MAX_CONCURRENT", "5")
	t.Setenv("ACCESS_TOKEN_EXPIRY", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 16, cfg.Password.MinLength)
	assert.Equal(t, 30*time.Minute, cfg.Lockout.AccountBaseLock)
	assert.Equal(t, 5, cfg.Session.MaxConcurrentSessions)
	assert.Equal(t, 5*time.Minute, cfg.Token.AccessExpiry)
}

func TestLoad_MissingTokenSecrets(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	t.Setenv("REFRESH_TOKEN_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token secrets")
}

func TestLoad_RejectsWeakPasswordPolicy(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("PASSWORD_MIN_LENGTH", "4")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PASSWORD_MIN_LENGTH")
}

func TestLoad_RejectsOutOfRangeBcryptCost(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("BCRYPT_COST", "4")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BCRYPT_COST")
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("LOCKOUT_ACCOUNT_THRESHOLD", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Lockout.AccountThreshold)
}

func TestValidate_IdleTimeoutBoundedByLifetime(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("SESSION_IDLE_TIMEOUT", "13h")
	t.Setenv("SESSION_LIFETIME", "12h")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle timeout")
}
