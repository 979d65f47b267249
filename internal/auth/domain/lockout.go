package domain

import "time"

// LockoutRecord tracks recent authentication failures for one identifier —
// an account email, an `ip:` prefixed origin address, or an `mfa:` prefixed
// user id. Failures outside the tracking window are pruned lazily.
type LockoutRecord struct {
	Identifier          string
	Failures            []time.Time
	LockedUntil         *time.Time
	ConsecutiveLockouts int
	LastLockExpiredAt   *time.Time
}

// CountWithin returns the number of failures newer than now minus window.
func (r *LockoutRecord) CountWithin(window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	n := 0
	for _, f := range r.Failures {
		if f.After(cutoff) {
			n++
		}
	}
	return n
}

// Prune drops failures older than the tracking window.
func (r *LockoutRecord) Prune(window time.Duration, now time.Time) {
	cutoff := now.Add(-window)
	kept := r.Failures[:0]
	for _, f := range r.Failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	r.Failures = kept
}
