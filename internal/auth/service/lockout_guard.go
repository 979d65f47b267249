package service

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/wardenlabs/warden/config"
	"github.com/wardenlabs/warden/internal/auth/domain"
	"github.com/wardenlabs/warden/pkg/constant"
)

// FailureAuditor supplies durable failed-attempt counts from the login audit
// trail. UserRepository satisfies it.
type FailureAuditor interface {
	CountRecentFailedAttempts(ctx context.Context, identifier string, since time.Time) (int, error)
}

// LockoutGuard tracks authentication failures per identifier and computes
// progressive lock windows. Accounts and origin addresses are tracked
// independently: an attacker probing many accounts from one address trips the
// address threshold even when no single account reaches its own.
//
// All record mutation happens under one mutex, so concurrent failures for the
// same identifier cannot lose increments. The repository is a write-through
// for durability; the in-memory map is authoritative for reads. When an
// auditor is supplied, account records with no surviving lockout state are
// seeded from the audit trail, so failure streaks outlive a restart even with
// an in-memory lockout store.
type LockoutGuard struct {
	mu      sync.Mutex
	records map[string]*domain.LockoutRecord
	repo    domain.LockoutRepository
	audit   FailureAuditor
	policy  config.LockoutPolicy
	logger  *slog.Logger
	now     func() time.Time
}

func NewLockoutGuard(repo domain.LockoutRepository, audit FailureAuditor, policy config.LockoutPolicy, logger *slog.Logger) *LockoutGuard {
	return &LockoutGuard{
		records: make(map[string]*domain.LockoutRecord),
		repo:    repo,
		audit:   audit,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
	}
}

func (g *LockoutGuard) isAddress(identifier string) bool {
	return strings.HasPrefix(identifier, constant.IPIdentifierPrefix)
}

func (g *LockoutGuard) window(identifier string) time.Duration {
	if g.isAddress(identifier) {
		return g.policy.IPWindow
	}
	return g.policy.AccountWindow
}

func (g *LockoutGuard) threshold(identifier string) int {
	if g.isAddress(identifier) {
		return g.policy.IPThreshold
	}
	return g.policy.AccountThreshold
}

func (g *LockoutGuard) baseLock(identifier string) time.Duration {
	if g.isAddress(identifier) {
		return g.policy.IPBaseLock
	}
	return g.policy.AccountBaseLock
}

// RecordFailure appends a failure, prunes aged entries, and locks the
// identifier once the windowed count reaches the threshold. The lock grows as
// base × multiplier^consecutive only when the previous lock expired within
// RapidRepeatWindow; otherwise the streak resets.
func (g *LockoutGuard) RecordFailure(ctx context.Context, identifier string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	rec, err := g.load(ctx, identifier)
	if err != nil {
		return err
	}

	rec.Failures = append(rec.Failures, now)
	rec.Prune(g.window(identifier), now)

	if rec.LockedUntil == nil && rec.CountWithin(g.window(identifier), now) >= g.threshold(identifier) {
		if rec.LastLockExpiredAt == nil || now.Sub(*rec.LastLockExpiredAt) > g.policy.RapidRepeatWindow {
			rec.ConsecutiveLockouts = 0
		}
		dur := g.lockDuration(identifier, rec.ConsecutiveLockouts)
		until := now.Add(dur)
		rec.LockedUntil = &until
		rec.ConsecutiveLockouts++
		rec.Failures = nil
		g.logger.Warn("identifier locked",
			"identifier", identifier, "until", until, "consecutive", rec.ConsecutiveLockouts)
	}

	return g.repo.Put(ctx, rec)
}

func (g *LockoutGuard) lockDuration(identifier string, consecutive int) time.Duration {
	dur := time.Duration(float64(g.baseLock(identifier)) * math.Pow(g.policy.Multiplier, float64(consecutive)))
	if dur > g.policy.MaxLock {
		dur = g.policy.MaxLock
	}
	return dur
}

// IsLocked reports whether the identifier is currently locked. An elapsed
// lock is cleared here as a side effect, so the check is safe to repeat.
func (g *LockoutGuard) IsLocked(ctx context.Context, identifier string) (bool, time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := g.load(ctx, identifier)
	if err != nil {
		return false, time.Time{}, err
	}
	if rec.LockedUntil == nil {
		return false, time.Time{}, nil
	}

	now := g.now()
	if now.Before(*rec.LockedUntil) {
		return true, *rec.LockedUntil, nil
	}

	// Lazy expiry: remember when the lock ended so a rapid reoffense
	// escalates, then clear it.
	expired := *rec.LockedUntil
	rec.LastLockExpiredAt = &expired
	rec.LockedUntil = nil
	if err := g.repo.Put(ctx, rec); err != nil {
		return false, time.Time{}, err
	}
	return false, time.Time{}, nil
}

// Reset clears failure history after a successful authentication. Records
// with no remaining state are deleted entirely.
func (g *LockoutGuard) Reset(ctx context.Context, identifier string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[identifier]
	if !ok {
		return nil
	}
	rec.Failures = nil
	if rec.LockedUntil == nil {
		delete(g.records, identifier)
		return g.repo.Delete(ctx, identifier)
	}
	return g.repo.Put(ctx, rec)
}

// PruneAll drops aged failures across every record and deletes records that
// end up empty. Run periodically by the maintenance loop.
func (g *LockoutGuard) PruneAll(ctx context.Context) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for id, rec := range g.records {
		rec.Prune(g.window(id), now)
		if len(rec.Failures) == 0 && rec.LockedUntil == nil {
			delete(g.records, id)
			if err := g.repo.Delete(ctx, id); err != nil {
				g.logger.Error("failed to delete lockout record", "identifier", id, "error", err)
			}
			removed++
		}
	}
	return removed
}

// load returns the cached record, falling back to the repository so locks
// survive a restart. Callers must hold g.mu.
func (g *LockoutGuard) load(ctx context.Context, identifier string) (*domain.LockoutRecord, error) {
	if rec, ok := g.records[identifier]; ok {
		return rec, nil
	}
	rec, err := g.repo.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &domain.LockoutRecord{Identifier: identifier}
		if err := g.seedFromAudit(ctx, rec); err != nil {
			return nil, err
		}
	}
	g.records[identifier] = rec
	return rec, nil
}

// seedFromAudit rebuilds an account's failure streak from the login-attempt
// audit trail when no lockout record survived. Only account identifiers
// appear in the trail; address and MFA counters start empty. The original
// timestamps are not retained, so seeded failures are stamped at load time.
func (g *LockoutGuard) seedFromAudit(ctx context.Context, rec *domain.LockoutRecord) error {
	if g.audit == nil || g.isAddress(rec.Identifier) ||
		strings.HasPrefix(rec.Identifier, constant.MfaIdentifierPrefix) {
		return nil
	}
	now := g.now()
	n, err := g.audit.CountRecentFailedAttempts(ctx, rec.Identifier, now.Add(-g.policy.AccountWindow))
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		rec.Failures = append(rec.Failures, now)
	}
	return nil
}
