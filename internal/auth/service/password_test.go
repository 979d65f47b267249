package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wardenlabs/warden/config"
	"github.com/wardenlabs/warden/internal/auth/dto"
)

func testPasswordPolicy() config.PasswordPolicy {
	return config.PasswordPolicy{
		MinLength:      12,
		MinUniqueChars: 6,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSymbol:  true,
		HistorySize:    5,
	}
}

func newTestValidator(t *testing.T) (*PasswordValidator, *Hasher) {
	t.Helper()
	hasher, err := NewHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)
	return NewPasswordValidator(testPasswordPolicy(), hasher), hasher
}

func testProfile() dto.RegisterInput {
	return dto.RegisterInput{
		Email:       "alice.smith@example.com",
		DisplayName: "Alice Smith",
		BirthYear:   1990,
	}
}

func TestPasswordValidator_AcceptsStrongPassword(t *testing.T) {
	v, _ := newTestValidator(t)

	violations, err := v.Validate(context.Background(), "Tr0ub4dor&Horse!", testProfile(), nil)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestPasswordValidator_ReportsEveryViolation(t *testing.T) {
	v, _ := newTestValidator(t)

	// Short, no upper, no digit, no symbol, too few unique characters.
	violations, err := v.Validate(context.Background(), "aaabbb", testProfile(), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(violations), 4, "all violated rules must be reported, got %v", violations)
}

func TestPasswordValidator_RejectsCommonPassword(t *testing.T) {
	v, _ := newTestValidator(t)

	violations, err := v.Validate(context.Background(), "Password123", testProfile(), nil)
	require.NoError(t, err)
	assert.Contains(t, violations, "password is too common")
}

func TestPasswordValidator_RejectsPersonalInformation(t *testing.T) {
	v, _ := newTestValidator(t)
	ctx := context.Background()

	violations, err := v.Validate(ctx, "XXalice.smithXX9!", testProfile(), nil)
	require.NoError(t, err)
	assert.Contains(t, violations, "password must not contain your email address")

	violations, err = v.Validate(ctx, "MyN4me-is-Smith!", testProfile(), nil)
	require.NoError(t, err)
	assert.Contains(t, violations, "password must not contain your name")

	violations, err = v.Validate(ctx, "Str0ng-1990-pass!", testProfile(), nil)
	require.NoError(t, err)
	assert.Contains(t, violations, "password must not contain your birth year")
}

func TestPasswordValidator_RejectsReuseFromHistory(t *testing.T) {
	v, hasher := newTestValidator(t)
	ctx := context.Background()

	old := "Old-Passw0rd-One!"
	oldHash, err := hasher.Hash(ctx, old)
	require.NoError(t, err)
	otherHash, err := hasher.Hash(ctx, "Other-Passw0rd-Two!")
	require.NoError(t, err)

	violations, err := v.Validate(ctx, old, testProfile(), []string{otherHash, oldHash})
	require.NoError(t, err)
	assert.Contains(t, violations, "password must not match any of your last 5 passwords")

	violations, err = v.Validate(ctx, "Brand-New-Passw0rd!", testProfile(), []string{otherHash, oldHash})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestHasher_HashAndCompare(t *testing.T) {
	hasher, err := NewHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)
	ctx := context.Background()

	hash, err := hasher.Hash(ctx, "Tr0ub4dor&Horse!")
	require.NoError(t, err)
	assert.NotEqual(t, "Tr0ub4dor&Horse!", hash)

	match, err := hasher.Compare(ctx, hash, "Tr0ub4dor&Horse!")
	require.NoError(t, err)
	assert.True(t, match)

	match, err = hasher.Compare(ctx, hash, "wrong-password")
	require.NoError(t, err)
	assert.False(t, match)
}

func TestHasher_CompareDummy(t *testing.T) {
	hasher, err := NewHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)

	// Never errors for any input; it exists purely to burn a comparison.
	assert.NoError(t, hasher.CompareDummy(context.Background(), "anything"))
}

func TestHasher_RespectsContextCancellation(t *testing.T) {
	hasher, err := NewHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = hasher.Hash(ctx, "whatever")
	assert.Error(t, err)
}
