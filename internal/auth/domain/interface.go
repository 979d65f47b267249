package domain

//go:generate mockgen -destination=../../mocks/mock_repository.go -package=mocks github.com/wardenlabs/warden/internal/auth/domain UserRepository,RefreshTokenRepository

import (
	"context"
	"time"
)

type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	List(ctx context.Context) ([]*User, error)
	RecordLoginAttempt(ctx context.Context, identifier, ip string, success bool) error
	CountRecentFailedAttempts(ctx context.Context, identifier string, since time.Time) (int, error)
	UpsertTrustedDevice(ctx context.Context, userID, fingerprint, userAgent, ip string) error
}

type SessionRepository interface {
	Get(ctx context.Context, id string) (*Session, error)
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// ReplaceID rekeys a session record during rotation.
	ReplaceID(ctx context.Context, oldID, newID string) error
	ListActiveByUserID(ctx context.Context, userID string) ([]*Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type RefreshTokenRepository interface {
	Get(ctx context.Context, token string) (*RefreshToken, error)
	Store(ctx context.Context, rt *RefreshToken) error
	Revoke(ctx context.Context, id string) error
	CountActiveByUserID(ctx context.Context, userID string) (int, error)
	DeleteOldestByUserID(ctx context.Context, userID string) error
}

type LockoutRepository interface {
	Get(ctx context.Context, identifier string) (*LockoutRecord, error)
	Put(ctx context.Context, rec *LockoutRecord) error
	Delete(ctx context.Context, identifier string) error
}

type MfaRepository interface {
	Get(ctx context.Context, userID string) (*MfaSecret, error)
	Put(ctx context.Context, secret *MfaSecret) error
	Delete(ctx context.Context, userID string) error
}
