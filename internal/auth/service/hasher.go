package service

import (
	"context"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Hasher funnels bcrypt work through a weighted semaphore so a burst of login
// attempts cannot monopolize the process. Acquire is context-aware, which
// gives callers request-scoped timeout behavior for free.
type Hasher struct {
	cost      int
	sem       *semaphore.Weighted
	dummyHash []byte
}

func NewHasher(cost, workers int) (*Hasher, error) {
	// Hashed once up front; Compare against it costs the same as a real
	// comparison, keeping unknown-user failures timing-indistinguishable.
	dummy, err := bcrypt.GenerateFromPassword([]byte("warden-dummy-password"), cost)
	if err != nil {
		return nil, err
	}
	return &Hasher{
		cost:      cost,
		sem:       semaphore.NewWeighted(int64(workers)),
		dummyHash: dummy,
	}, nil
}

func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (h *Hasher) Compare(ctx context.Context, hash, password string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// CompareDummy burns one bcrypt comparison without revealing anything. Used
// when the looked-up user does not exist.
func (h *Hasher) CompareDummy(ctx context.Context, password string) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.sem.Release(1)

	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
	return nil
}
