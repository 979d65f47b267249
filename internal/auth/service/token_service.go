package service

//go:generate mockgen -destination=../../mocks/mock_token_generator.go -package=mocks github.com/wardenlabs/warden/internal/auth/service TokenGenerator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wardenlabs/warden/config"
	"github.com/wardenlabs/warden/internal/auth/domain"
	autherror "github.com/wardenlabs/warden/internal/errors"
	"github.com/wardenlabs/warden/pkg/constant"
)

type TokenGenerator interface {
	Generate(userID, email, role string) (string, string, time.Time, error)
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	VerifyAccessToken(ctx context.Context, tokenString string) (*domain.Principal, error)
	Revoke(tokenString string) error
}

type JWTCustomClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// TokenService mints and verifies HS256 bearer tokens. Every issued access
// token's jti goes into an active set; Verify requires membership, so a
// revoked token fails even while its signature and expiry remain valid.
type TokenService struct {
	policy config.TokenPolicy
	users  domain.UserRepository
	authz  *AuthorizationEngine

	mu     sync.RWMutex
	active map[string]time.Time // jti -> expiry
}

func NewTokenService(policy config.TokenPolicy, users domain.UserRepository, authz *AuthorizationEngine) *TokenService {
	return &TokenService{
		policy: policy,
		users:  users,
		authz:  authz,
		active: make(map[string]time.Time),
	}
}

func (ts *TokenService) Generate(userID, email, role string) (string, string, time.Time, error) {
	now := time.Now()
	jti := uuid.NewString()

	accessClaims := JWTCustomClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    constant.TokenIssuer,
			Audience:  jwt.ClaimStrings{constant.TokenAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.policy.AccessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	refreshClaims := JWTCustomClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    constant.TokenIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.policy.RefreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).
		SignedString([]byte(ts.policy.AccessSecret))
	if err != nil {
		return "", "", time.Time{}, err
	}

	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).
		SignedString([]byte(ts.policy.RefreshSecret))
	if err != nil {
		return "", "", time.Time{}, err
	}

	ts.mu.Lock()
	ts.active[jti] = now.Add(ts.policy.AccessExpiry)
	ts.mu.Unlock()

	return accessToken, refreshToken, now.Add(ts.policy.AccessExpiry), nil
}

func (ts *TokenService) GetAccessTokenExpiry() time.Duration {
	return ts.policy.AccessExpiry
}

func (ts *TokenService) GetRefreshTokenExpiry() time.Duration {
	return ts.policy.RefreshExpiry
}

// VerifyAccessToken checks signature, issuer, audience, expiry, active-set
// membership, and that the subject is still an active user. On success it
// returns a populated principal.
func (ts *TokenService) VerifyAccessToken(ctx context.Context, tokenString string) (*domain.Principal, error) {
	claims, err := ts.parse(tokenString)
	if err != nil {
		return nil, err
	}

	ts.mu.RLock()
	_, live := ts.active[claims.ID]
	ts.mu.RUnlock()
	if !live {
		return nil, autherror.ErrTokenRevoked
	}

	user, err := ts.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, autherror.ErrUserInactive
	}

	return &domain.Principal{
		ID:            user.ID,
		Role:          user.Role,
		Permissions:   ts.authz.PermissionsForRole(user.Role),
		Authenticated: true,
	}, nil
}

// Revoke removes the token's jti from the active set. Subsequent verifies
// fail even though the signature stays mathematically valid.
func (ts *TokenService) Revoke(tokenString string) error {
	claims, err := ts.parse(tokenString)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	delete(ts.active, claims.ID)
	ts.mu.Unlock()
	return nil
}

// PruneExpired drops active-set entries whose expiry has passed. Run by the
// maintenance loop; expired tokens already fail verification, this just
// bounds memory.
func (ts *TokenService) PruneExpired(now time.Time) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	removed := 0
	for jti, exp := range ts.active {
		if now.After(exp) {
			delete(ts.active, jti)
			removed++
		}
	}
	return removed
}

func (ts *TokenService) parse(tokenString string) (*JWTCustomClaims, error) {
	claims := &JWTCustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(ts.policy.AccessSecret), nil
	}, jwt.WithIssuer(constant.TokenIssuer), jwt.WithAudience(constant.TokenAudience))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherror.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, autherror.ErrInvalidToken
	}
	return claims, nil
}
