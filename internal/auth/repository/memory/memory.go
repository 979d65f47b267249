// Package memory provides mutex-guarded in-memory repositories. They back
// tests and development runs without a configured database; every method has
// read-your-writes semantics per key.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/internal/auth/domain"
	autherror "github.com/wardenlabs/warden/internal/errors"
)

type UserRepository struct {
	mu       sync.RWMutex
	byID     map[string]*domain.User
	byEmail  map[string]string
	attempts []domain.LoginAttempt
	devices  map[string]*domain.TrustedDevice // userID+fingerprint
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
		devices: make(map[string]*domain.TrustedDevice),
	}
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	return cloneUser(r.byID[id]), nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[user.ID] = cloneUser(user)
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *UserRepository) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byID[user.ID]; ok && prev.Email != user.Email {
		delete(r.byEmail, prev.Email)
	}
	r.byID[user.ID] = cloneUser(user)
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *UserRepository) List(_ context.Context) ([]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.User, 0, len(r.byID))
	for _, u := range r.byID {
		out = append(out, cloneUser(u))
	}
	return out, nil
}

func (r *UserRepository) RecordLoginAttempt(_ context.Context, identifier, ip string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, domain.LoginAttempt{
		ID:          uuid.NewString(),
		Identifier:  identifier,
		IPAddress:   ip,
		AttemptTime: time.Now(),
		Successful:  success,
	})
	return nil
}

// CountRecentFailedAttempts counts the current failure streak: failures after
// since, excluding anything that precedes the identifier's most recent
// successful attempt.
func (r *UserRepository) CountRecentFailedAttempts(_ context.Context, identifier string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var lastSuccess time.Time
	for _, a := range r.attempts {
		if a.Identifier == identifier && a.Successful && a.AttemptTime.After(lastSuccess) {
			lastSuccess = a.AttemptTime
		}
	}
	n := 0
	for _, a := range r.attempts {
		if a.Identifier == identifier && !a.Successful &&
			a.AttemptTime.After(since) && a.AttemptTime.After(lastSuccess) {
			n++
		}
	}
	return n, nil
}

func (r *UserRepository) UpsertTrustedDevice(_ context.Context, userID, fingerprint, userAgent, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := userID + "\x00" + fingerprint
	now := time.Now()
	if d, ok := r.devices[key]; ok {
		d.LastSeen = now
		d.UserAgent = userAgent
		d.IPAddress = ip
		return nil
	}
	r.devices[key] = &domain.TrustedDevice{
		ID:          uuid.NewString(),
		UserID:      userID,
		Fingerprint: fingerprint,
		UserAgent:   userAgent,
		IPAddress:   ip,
		LastSeen:    now,
		CreatedAt:   now,
	}
	return nil
}

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*domain.Session)}
}

func (r *SessionRepository) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

func (r *SessionRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *SessionRepository) Update(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *SessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// ReplaceID fails with ErrSessionNotFound when the old ID is already gone,
// e.g. because a concurrent rotation won the race.
func (r *SessionRepository) ReplaceID(_ context.Context, oldID, newID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[oldID]
	if !ok {
		return autherror.ErrSessionNotFound
	}
	delete(r.sessions, oldID)
	clone := cloneSession(s)
	clone.ID = newID
	r.sessions[newID] = clone
	return nil
}

func (r *SessionRepository) ListActiveByUserID(_ context.Context, userID string) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}

func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

type RefreshTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]*domain.RefreshToken // keyed by token string
}

func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{tokens: make(map[string]*domain.RefreshToken)}
}

func (r *RefreshTokenRepository) Get(_ context.Context, token string) (*domain.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tokens[token]
	if !ok {
		return nil, nil
	}
	clone := *rt
	return &clone, nil
}

func (r *RefreshTokenRepository) Store(_ context.Context, rt *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *rt
	r.tokens[rt.Token] = &clone
	return nil
}

func (r *RefreshTokenRepository) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.tokens {
		if rt.ID == id {
			rt.Revoked = true
		}
	}
	return nil
}

func (r *RefreshTokenRepository) CountActiveByUserID(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	now := time.Now()
	for _, rt := range r.tokens {
		if rt.UserID == userID && !rt.Revoked && rt.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (r *RefreshTokenRepository) DeleteOldestByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldestKey string
	var oldest time.Time
	for key, rt := range r.tokens {
		if rt.UserID != userID || rt.Revoked {
			continue
		}
		if oldestKey == "" || rt.CreatedAt.Before(oldest) {
			oldestKey = key
			oldest = rt.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(r.tokens, oldestKey)
	}
	return nil
}

type LockoutRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.LockoutRecord
}

func NewLockoutRepository() *LockoutRepository {
	return &LockoutRepository{records: make(map[string]*domain.LockoutRecord)}
}

func (r *LockoutRepository) Get(_ context.Context, identifier string) (*domain.LockoutRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[identifier]
	if !ok {
		return nil, nil
	}
	return cloneLockout(rec), nil
}

func (r *LockoutRepository) Put(_ context.Context, rec *domain.LockoutRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Identifier] = cloneLockout(rec)
	return nil
}

func (r *LockoutRepository) Delete(_ context.Context, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, identifier)
	return nil
}

type MfaRepository struct {
	mu      sync.RWMutex
	secrets map[string]*domain.MfaSecret
}

func NewMfaRepository() *MfaRepository {
	return &MfaRepository{secrets: make(map[string]*domain.MfaSecret)}
}

func (r *MfaRepository) Get(_ context.Context, userID string) (*domain.MfaSecret, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.secrets[userID]
	if !ok {
		return nil, nil
	}
	return cloneMfa(s), nil
}

func (r *MfaRepository) Put(_ context.Context, secret *domain.MfaSecret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[secret.UserID] = cloneMfa(secret)
	return nil
}

func (r *MfaRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.secrets, userID)
	return nil
}

func cloneUser(u *domain.User) *domain.User {
	clone := *u
	clone.PasswordHistory = append([]string(nil), u.PasswordHistory...)
	return &clone
}

func cloneSession(s *domain.Session) *domain.Session {
	clone := *s
	return &clone
}

func cloneLockout(rec *domain.LockoutRecord) *domain.LockoutRecord {
	clone := *rec
	clone.Failures = append([]time.Time(nil), rec.Failures...)
	return &clone
}

func cloneMfa(s *domain.MfaSecret) *domain.MfaSecret {
	clone := *s
	clone.BackupCodes = append([]domain.BackupCode(nil), s.BackupCodes...)
	return &clone
}
