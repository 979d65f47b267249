package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wardenlabs/warden/config"
	"github.com/wardenlabs/warden/internal/auth/domain"
	"github.com/wardenlabs/warden/internal/auth/dto"
	autherror "github.com/wardenlabs/warden/internal/errors"
)

// SessionValidation is the outcome of a successful Validate call.
// RequiresReauth is set on device-fingerprint drift: the session survives,
// but sensitive operations should demand fresh credentials.
type SessionValidation struct {
	Session        *domain.Session
	RequiresReauth bool
	Rotated        bool
	AnomalyScore   int
	AnomalyReasons []string
}

// SessionManager owns the server-side session lifecycle:
// create → validate (with periodic ID rotation) → expire/invalidate.
// The mutex makes "count active sessions, evict the oldest, insert the new
// one" a single step, so the per-user limit cannot be transiently exceeded
// by concurrent logins. Validation holds the same mutex: two in-flight
// requests that both see the rotation interval elapsed would otherwise each
// mint a new ID and fork one session into two live records.
type SessionManager struct {
	mu       sync.Mutex
	repo     domain.SessionRepository
	detector *AnomalyDetector
	policy   config.SessionPolicy
	logger   *slog.Logger
	now      func() time.Time
}

func NewSessionManager(repo domain.SessionRepository, detector *AnomalyDetector, policy config.SessionPolicy, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		repo:     repo,
		detector: detector,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// Create mints a session for an authenticated user, evicting the
// least-recently-active sessions first if the user is at the concurrency
// limit.
func (sm *SessionManager) Create(ctx context.Context, user *domain.User, rc dto.RequestContext) (*domain.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	active, err := sm.repo.ListActiveByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if excess := len(active) - sm.policy.MaxConcurrentSessions + 1; excess > 0 {
		sort.Slice(active, func(i, j int) bool {
			return active[i].LastActivity.Before(active[j].LastActivity)
		})
		for _, victim := range active[:excess] {
			victim.Active = false
			if err := sm.repo.Update(ctx, victim); err != nil {
				return nil, err
			}
			sm.detector.Forget(victim.ID)
			sm.logger.Info("session evicted for concurrency limit",
				"user_id", user.ID, "session_id", victim.ID)
		}
	}

	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	now := sm.now()
	session := &domain.Session{
		ID:                id,
		UserID:            user.ID,
		Role:              user.Role,
		CreatedAt:         now,
		LastActivity:      now,
		ExpiresAt:         now.Add(sm.policy.AbsoluteLifetime),
		LastRotatedAt:     now,
		DeviceFingerprint: sm.detector.Fingerprint(rc),
		IPAddress:         rc.IPAddress,
		UserAgent:         rc.UserAgent,
		Latitude:          rc.Latitude,
		Longitude:         rc.Longitude,
		HasGeo:            rc.HasGeo,
		Active:            true,
	}
	if err := sm.repo.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Validate checks a session against absolute and idle timeouts, rotates the
// ID when the rotation interval has elapsed, scores the request context, and
// bumps last-activity. Fingerprint drift does not fail validation; it flags
// the result instead.
func (sm *SessionManager) Validate(ctx context.Context, sessionID string, rc dto.RequestContext) (*SessionValidation, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, err := sm.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.Active {
		return nil, autherror.ErrSessionNotFound
	}

	now := sm.now()
	if session.Expired(now) {
		sm.invalidateLocked(ctx, session)
		return nil, autherror.ErrSessionExpired
	}
	if session.Idle(now, sm.policy.IdleTimeout) {
		sm.invalidateLocked(ctx, session)
		return nil, autherror.ErrSessionIdle
	}

	result := &SessionValidation{Session: session}

	if fp := sm.detector.Fingerprint(rc); fp != session.DeviceFingerprint {
		result.RequiresReauth = true
	}

	score, reasons := sm.detector.Score(session, rc)
	session.AnomalyScore = score
	result.AnomalyScore = score
	result.AnomalyReasons = reasons

	if now.Sub(session.LastRotatedAt) >= sm.policy.RotationInterval {
		newID, err := newSessionID()
		if err != nil {
			return nil, err
		}
		if err := sm.repo.ReplaceID(ctx, session.ID, newID); err != nil {
			return nil, err
		}
		sm.detector.Forget(session.ID)
		session.ID = newID
		session.LastRotatedAt = now
		session.RotationCount++
		result.Rotated = true
	}

	session.LastActivity = now
	if err := sm.repo.Update(ctx, session); err != nil {
		return nil, err
	}
	return result, nil
}

// Invalidate marks the session inactive. Idempotent: unknown or already
// inactive sessions are not an error.
func (sm *SessionManager) Invalidate(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, err := sm.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil || !session.Active {
		return nil
	}
	sm.invalidateLocked(ctx, session)
	return nil
}

// InvalidateAllForUser terminates every active session a user holds.
func (sm *SessionManager) InvalidateAllForUser(ctx context.Context, userID string) (int, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	active, err := sm.repo.ListActiveByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, s := range active {
		sm.invalidateLocked(ctx, s)
	}
	return len(active), nil
}

// ListForUser returns the user's active sessions, most recent first.
func (sm *SessionManager) ListForUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	active, err := sm.repo.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActivity.After(active[j].LastActivity)
	})
	return active, nil
}

// Fingerprint exposes the detector's derivation for callers that need the
// fingerprint outside of validation, e.g. refresh-token binding.
func (sm *SessionManager) Fingerprint(rc dto.RequestContext) string {
	return sm.detector.Fingerprint(rc)
}

// CleanupExpired removes records past their absolute expiry. Run by the
// maintenance loop.
func (sm *SessionManager) CleanupExpired(ctx context.Context) (int, error) {
	return sm.repo.DeleteExpired(ctx, sm.now())
}

func (sm *SessionManager) invalidateLocked(ctx context.Context, session *domain.Session) {
	session.Active = false
	if err := sm.repo.Update(ctx, session); err != nil {
		sm.logger.Error("failed to persist session invalidation",
			"session_id", session.ID, "error", err)
	}
	sm.detector.Forget(session.ID)
}

// newSessionID returns 256 bits of hex-encoded randomness.
func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
