package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/config"
	"github.com/wardenlabs/warden/internal/auth/domain"
	"github.com/wardenlabs/warden/internal/auth/dto"
	autherror "github.com/wardenlabs/warden/internal/errors"
	"github.com/wardenlabs/warden/pkg/constant"
)

// LoginResult carries everything a successful authentication produces.
type LoginResult struct {
	Tokens         *dto.TokenResponse
	Session        *domain.Session
	NewBackupCodes []string
}

// UserService is the credential store and login orchestrator. Login order
// matters: lockout checks short-circuit before any password comparison so a
// locked identifier costs no hashing work and leaks no timing signal.
type UserService struct {
	repo      domain.UserRepository
	refresh   domain.RefreshTokenRepository
	tokens    TokenGenerator
	sessions  *SessionManager
	lockout   *LockoutGuard
	mfa       *MfaProvider
	hasher    *Hasher
	validator *PasswordValidator
	cfg       *config.Config
	logger    *slog.Logger
}

func NewUserService(
	repo domain.UserRepository,
	refresh domain.RefreshTokenRepository,
	tokens TokenGenerator,
	sessions *SessionManager,
	lockout *LockoutGuard,
	mfa *MfaProvider,
	hasher *Hasher,
	validator *PasswordValidator,
	cfg *config.Config,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		repo:      repo,
		refresh:   refresh,
		tokens:    tokens,
		sessions:  sessions,
		lockout:   lockout,
		mfa:       mfa,
		hasher:    hasher,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

// Register validates the profile and password policy (reporting every
// violation), stores a one-way hash, and returns the created user. The raw
// password is never persisted.
func (s *UserService) Register(ctx context.Context, input dto.RegisterInput) (*domain.User, error) {
	input.Email = normalizeEmail(input.Email)

	var violations []string
	if input.Email == "" || !strings.Contains(input.Email, "@") {
		violations = append(violations, "email is invalid")
	}
	if strings.TrimSpace(input.DisplayName) == "" {
		violations = append(violations, "display name is required")
	}
	policyViolations, err := s.validator.Validate(ctx, input.Password, input, nil)
	if err != nil {
		return nil, err
	}
	violations = append(violations, policyViolations...)
	if len(violations) > 0 {
		return nil, autherror.NewValidationError(violations...)
	}

	existingUser, err := s.repo.GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if existingUser != nil {
		return nil, autherror.ErrEmailAlreadyInUse
	}

	hashedPassword, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &domain.User{
		ID:                uuid.New().String(),
		Email:             input.Email,
		DisplayName:       input.DisplayName,
		Role:              constant.DefaultUserRole,
		PasswordHash:      hashedPassword,
		PasswordChangedAt: now,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login authenticates email+password (+MFA when enabled) and mints a
// session plus a token pair.
func (s *UserService) Login(ctx context.Context, input dto.LoginInput) (*LoginResult, error) {
	email := normalizeEmail(input.Email)
	ipIdentifier := constant.IPIdentifierPrefix + input.Context.IPAddress

	// Lockout is authoritative: fail before touching the password path.
	if locked, until, err := s.lockout.IsLocked(ctx, email); err != nil {
		return nil, err
	} else if locked {
		return nil, &autherror.LockoutError{Identifier: email, RetryAfter: until}
	}
	if locked, until, err := s.lockout.IsLocked(ctx, ipIdentifier); err != nil {
		return nil, err
	} else if locked {
		return nil, &autherror.LockoutError{Identifier: ipIdentifier, RetryAfter: until}
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Equal-cost dummy comparison keeps unknown-address failures
		// indistinguishable from wrong-password failures.
		if err := s.hasher.CompareDummy(ctx, input.Password); err != nil {
			return nil, err
		}
		return nil, s.failLogin(ctx, email, input.Context.IPAddress)
	}
	if !user.Active {
		return nil, autherror.ErrUserInactive
	}
	if user.Locked(time.Now()) {
		return nil, &autherror.LockoutError{Identifier: email, RetryAfter: *user.LockedUntil}
	}

	match, err := s.hasher.Compare(ctx, user.PasswordHash, input.Password)
	if err != nil {
		return nil, err
	}
	if !match {
		loginErr := s.failLogin(ctx, email, input.Context.IPAddress)
		user.FailedAttempts++
		// Mirror the guard's lock onto the account row so the lock survives
		// even if the lockout store is lost.
		if locked, until, lockErr := s.lockout.IsLocked(ctx, email); lockErr == nil && locked {
			user.LockedUntil = &until
		}
		if err := s.repo.Update(ctx, user); err != nil {
			s.logger.Error("failed to persist attempt counter", "user_id", user.ID, "error", err)
		}
		return nil, loginErr
	}

	mfaEnabled, err := s.mfa.Enabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	var newBackupCodes []string
	if mfaEnabled {
		if input.MfaCode == "" {
			return nil, &autherror.MfaError{Reason: "code required"}
		}
		newBackupCodes, err = s.mfa.Verify(ctx, user.ID, input.MfaCode)
		if err != nil {
			return nil, err
		}
	}

	// Success: counters reset to zero for both identifiers.
	if err := s.lockout.Reset(ctx, email); err != nil {
		return nil, err
	}
	if err := s.lockout.Reset(ctx, ipIdentifier); err != nil {
		return nil, err
	}
	user.FailedAttempts = 0
	user.LockedUntil = nil
	user.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(ctx, user, input.Context)
	if err != nil {
		return nil, err
	}

	accessToken, refreshToken, _, err := s.tokens.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rt := &domain.RefreshToken{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		Token:             refreshToken,
		SessionID:         session.ID,
		DeviceFingerprint: session.DeviceFingerprint,
		IPAddress:         input.Context.IPAddress,
		UserAgent:         input.Context.UserAgent,
		ExpiresAt:         now.Add(s.tokens.GetRefreshTokenExpiry()),
		CreatedAt:         now,
	}
	if err := s.refresh.Store(ctx, rt); err != nil {
		return nil, err
	}
	if err := s.enforceRefreshTokenCap(ctx, user.ID); err != nil {
		s.logger.Warn("failed to enforce refresh token cap", "user_id", user.ID, "error", err)
	}

	if err := s.repo.UpsertTrustedDevice(ctx, user.ID, session.DeviceFingerprint, input.Context.UserAgent, input.Context.IPAddress); err != nil {
		return nil, err
	}
	if err := s.repo.RecordLoginAttempt(ctx, email, input.Context.IPAddress, true); err != nil {
		return nil, err
	}

	return &LoginResult{
		Tokens: &dto.TokenResponse{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenType:    constant.DefaultTokenType,
			ExpiresIn:    int(s.tokens.GetAccessTokenExpiry().Seconds()),
			SessionID:    session.ID,
		},
		Session:        session,
		NewBackupCodes: newBackupCodes,
	}, nil
}

// Refresh rotates a refresh token: the old one is revoked, a new pair is
// minted, and the device fingerprint must match the one recorded at issue.
func (s *UserService) Refresh(ctx context.Context, input dto.RefreshInput, fingerprint string) (*dto.TokenResponse, error) {
	token, err := s.refresh.Get(ctx, input.RefreshToken)
	if err != nil || token == nil {
		return nil, autherror.ErrRefreshTokenNotFound
	}
	if token.Revoked {
		return nil, autherror.ErrRefreshTokenRevoked
	}
	if token.DeviceFingerprint != fingerprint {
		return nil, autherror.ErrDeviceFingerprintMismatch
	}
	if time.Now().After(token.ExpiresAt) {
		return nil, autherror.ErrRefreshTokenExpired
	}

	if err := s.refresh.Revoke(ctx, token.ID); err != nil {
		return nil, fmt.Errorf("failed to revoke token: %w", err)
	}
	if err := s.enforceRefreshTokenCap(ctx, token.UserID); err != nil {
		s.logger.Warn("failed to enforce refresh token cap", "user_id", token.UserID, "error", err)
	}

	user, err := s.repo.GetByID(ctx, token.UserID)
	if err != nil || user == nil {
		return nil, fmt.Errorf("user not found for token refresh")
	}
	if !user.Active {
		return nil, autherror.ErrUserInactive
	}

	accessToken, newRefreshToken, expiresAt, err := s.tokens.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate new tokens: %w", err)
	}

	newToken := &domain.RefreshToken{
		ID:                uuid.NewString(),
		UserID:            token.UserID,
		Token:             newRefreshToken,
		SessionID:         token.SessionID,
		DeviceFingerprint: fingerprint,
		IPAddress:         input.Context.IPAddress,
		UserAgent:         input.Context.UserAgent,
		ExpiresAt:         expiresAt,
		CreatedAt:         time.Now(),
	}
	if err := s.refresh.Store(ctx, newToken); err != nil {
		return nil, fmt.Errorf("failed to store new refresh token: %w", err)
	}

	return &dto.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		TokenType:    constant.DefaultTokenType,
		ExpiresIn:    int(s.tokens.GetAccessTokenExpiry().Seconds()),
		SessionID:    token.SessionID,
	}, nil
}

// UpdatePassword re-validates policy (including reuse against the retained
// history), archives the old hash, and persists the new one.
func (s *UserService) UpdatePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return autherror.ErrUserNotFound
	}

	match, err := s.hasher.Compare(ctx, user.PasswordHash, currentPassword)
	if err != nil {
		return err
	}
	if !match {
		return autherror.ErrInvalidCredentials
	}

	history := append([]string{user.PasswordHash}, user.PasswordHistory...)
	profile := dto.RegisterInput{Email: user.Email, DisplayName: user.DisplayName}
	violations, err := s.validator.Validate(ctx, newPassword, profile, history)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return autherror.NewValidationError(violations...)
	}

	newHash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}

	user.PasswordHistory = append([]string{user.PasswordHash}, user.PasswordHistory...)
	if len(user.PasswordHistory) > s.cfg.Password.HistorySize {
		user.PasswordHistory = user.PasswordHistory[:s.cfg.Password.HistorySize]
	}
	user.PasswordHash = newHash
	user.PasswordChangedAt = time.Now()
	user.UpdatedAt = user.PasswordChangedAt
	return s.repo.Update(ctx, user)
}

// GetAllUsers lists users for the admin surface.
func (s *UserService) GetAllUsers(ctx context.Context) ([]*domain.User, error) {
	return s.repo.List(ctx)
}

// UpdateUserRole changes a user's role. Existing sessions keep their role
// snapshot until they expire or rotate out.
func (s *UserService) UpdateUserRole(ctx context.Context, userID, role string) error {
	switch role {
	case constant.RoleAdmin, constant.RoleManager, constant.RoleUser, constant.RoleGuest:
	default:
		return autherror.NewValidationError("unknown role " + role)
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return autherror.ErrUserNotFound
	}
	user.Role = role
	user.UpdatedAt = time.Now()
	return s.repo.Update(ctx, user)
}

// Deactivate flags the account inactive; records are never physically
// deleted in normal operation.
func (s *UserService) Deactivate(ctx context.Context, userID string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return autherror.ErrUserNotFound
	}
	user.Active = false
	user.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, user); err != nil {
		return err
	}
	_, err = s.sessions.InvalidateAllForUser(ctx, userID)
	return err
}

// failLogin records the failure for both the account and origin-address
// identifiers and returns the generic credentials error.
func (s *UserService) failLogin(ctx context.Context, email, ip string) error {
	if err := s.repo.RecordLoginAttempt(ctx, email, ip, false); err != nil {
		s.logger.Error("failed to record login attempt", "error", err)
	}
	if err := s.lockout.RecordFailure(ctx, email); err != nil {
		s.logger.Error("failed to record account failure", "error", err)
	}
	if ip != "" {
		if err := s.lockout.RecordFailure(ctx, constant.IPIdentifierPrefix+ip); err != nil {
			s.logger.Error("failed to record address failure", "error", err)
		}
	}
	return autherror.ErrInvalidCredentials
}

func (s *UserService) enforceRefreshTokenCap(ctx context.Context, userID string) error {
	count, err := s.refresh.CountActiveByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if count > s.cfg.Token.MaxActive {
		return s.refresh.DeleteOldestByUserID(ctx, userID)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
