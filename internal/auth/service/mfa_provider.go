package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/wardenlabs/warden/config"
	"github.com/wardenlabs/warden/internal/auth/domain"
	"github.com/wardenlabs/warden/internal/auth/dto"
	autherror "github.com/wardenlabs/warden/internal/errors"
	"github.com/wardenlabs/warden/pkg/constant"
)

// MfaProvider issues and verifies time-based one-time codes plus single-use
// backup codes. Raw backup codes leave this package exactly once, in the
// setup (or regeneration) response; only SHA-256 digests are stored.
type MfaProvider struct {
	repo    domain.MfaRepository
	lockout *LockoutGuard
	policy  config.MfaPolicy
	logger  *slog.Logger
	now     func() time.Time
}

func NewMfaProvider(repo domain.MfaRepository, lockout *LockoutGuard, policy config.MfaPolicy, logger *slog.Logger) *MfaProvider {
	return &MfaProvider{
		repo:    repo,
		lockout: lockout,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
	}
}

// Setup generates a fresh shared secret and backup-code batch. The secret
// stays disabled until VerifySetup confirms the authenticator works.
func (m *MfaProvider) Setup(ctx context.Context, userID, email string) (*dto.MfaSetupResponse, error) {
	existing, err := m.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Enabled {
		return nil, autherror.ErrMfaAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.policy.Issuer,
		AccountName: email,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	rawCodes, hashed, err := m.newBackupCodes()
	if err != nil {
		return nil, err
	}

	secret := &domain.MfaSecret{
		UserID:      userID,
		Secret:      key.Secret(),
		Enabled:     false,
		BackupCodes: hashed,
		CreatedAt:   m.now(),
	}
	if err := m.repo.Put(ctx, secret); err != nil {
		return nil, err
	}

	return &dto.MfaSetupResponse{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     rawCodes,
	}, nil
}

// VerifySetup confirms the pending secret with one valid code and enables
// MFA for the user.
func (m *MfaProvider) VerifySetup(ctx context.Context, userID, code string) error {
	secret, err := m.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if secret == nil {
		return autherror.ErrMfaNotConfigured
	}
	if !m.validTotp(code, secret.Secret) {
		return &autherror.MfaError{Reason: "invalid setup code"}
	}

	now := m.now()
	secret.Enabled = true
	secret.LastVerifiedAt = &now
	return m.repo.Put(ctx, secret)
}

// Verify checks a time-based code first, then falls back to backup codes.
// A matched backup code is consumed; when the unused count drops to the
// regeneration floor a fresh batch is minted and returned so the caller can
// display it. Failures feed the lockout guard under mfa:<userID>.
func (m *MfaProvider) Verify(ctx context.Context, userID, code string) ([]string, error) {
	identifier := constant.MfaIdentifierPrefix + userID
	if locked, until, err := m.lockout.IsLocked(ctx, identifier); err != nil {
		return nil, err
	} else if locked {
		return nil, &autherror.LockoutError{Identifier: identifier, RetryAfter: until}
	}

	secret, err := m.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if secret == nil || !secret.Enabled {
		return nil, autherror.ErrMfaNotConfigured
	}

	if m.validTotp(code, secret.Secret) {
		now := m.now()
		secret.LastVerifiedAt = &now
		return nil, m.repo.Put(ctx, secret)
	}

	if fresh, ok, err := m.consumeBackupCode(ctx, secret, code); err != nil {
		return nil, err
	} else if ok {
		return fresh, nil
	}

	if err := m.lockout.RecordFailure(ctx, identifier); err != nil {
		m.logger.Error("failed to record mfa failure", "user_id", userID, "error", err)
	}
	return nil, &autherror.MfaError{Reason: "code did not match"}
}

// Enabled reports whether the user has a confirmed MFA secret.
func (m *MfaProvider) Enabled(ctx context.Context, userID string) (bool, error) {
	secret, err := m.repo.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return secret != nil && secret.Enabled, nil
}

func (m *MfaProvider) validTotp(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, m.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      uint(m.policy.DriftSteps),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// consumeBackupCode marks a matching unused code as used. Each code satisfies
// exactly one verification. Returns freshly minted raw codes when the batch
// was regenerated.
func (m *MfaProvider) consumeBackupCode(ctx context.Context, secret *domain.MfaSecret, code string) ([]string, bool, error) {
	digest := hashBackupCode(code)
	for i := range secret.BackupCodes {
		bc := &secret.BackupCodes[i]
		if bc.Used || bc.CodeHash != digest {
			continue
		}
		now := m.now()
		bc.Used = true
		bc.UsedAt = &now
		secret.LastVerifiedAt = &now

		var fresh []string
		if secret.RemainingBackupCodes() <= m.policy.RegenerateAt {
			raw, hashed, err := m.newBackupCodes()
			if err != nil {
				return nil, false, err
			}
			secret.BackupCodes = hashed
			fresh = raw
			m.logger.Info("backup codes regenerated", "user_id", secret.UserID)
		}
		if err := m.repo.Put(ctx, secret); err != nil {
			return nil, false, err
		}
		return fresh, true, nil
	}
	return nil, false, nil
}

func (m *MfaProvider) newBackupCodes() ([]string, []domain.BackupCode, error) {
	raw := make([]string, 0, m.policy.BackupCodeCount)
	hashed := make([]domain.BackupCode, 0, m.policy.BackupCodeCount)
	now := m.now()
	for i := 0; i < m.policy.BackupCodeCount; i++ {
		code, err := randomBackupCode()
		if err != nil {
			return nil, nil, err
		}
		raw = append(raw, code)
		hashed = append(hashed, domain.BackupCode{
			ID:        uuid.NewString(),
			CodeHash:  hashBackupCode(code),
			CreatedAt: now,
		})
	}
	return raw, hashed, nil
}

// randomBackupCode produces a code like "3f9a-c27b-85d1".
func randomBackupCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	s := hex.EncodeToString(buf)
	return s[0:4] + "-" + s[4:8] + "-" + s[8:12], nil
}

func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
