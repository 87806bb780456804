package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LockRegistry serializes mutations per account. Locks are acquired in
// ascending id order so a transfer touching two accounts can never
// deadlock against another transfer touching the same pair, and every
// acquisition waits at most maxWait before giving up with a contention
// error.
type LockRegistry struct {
	mu      sync.Mutex
	locks   map[uuid.UUID]chan struct{}
	maxWait time.Duration
}

// NewLockRegistry builds a registry with the given bounded wait per
// lock.
func NewLockRegistry(maxWait time.Duration) *LockRegistry {
	return &LockRegistry{
		locks:   make(map[uuid.UUID]chan struct{}),
		maxWait: maxWait,
	}
}

func (r *LockRegistry) lockFor(id uuid.UUID) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		r.locks[id] = l
	}
	return l
}

// Acquire takes exclusive locks on every id, in stable ascending order,
// and returns a release function. On timeout or context cancellation
// all locks taken so far are released and a contention error (or the
// context error) is returned, leaving no partial holds behind.
func (r *LockRegistry) Acquire(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	ordered := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			ordered = append(ordered, id)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].String() < ordered[j].String()
	})

	timer := time.NewTimer(r.maxWait)
	defer timer.Stop()

	held := make([]chan struct{}, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range ordered {
		l := r.lockFor(id)
		select {
		case l <- struct{}{}:
			held = append(held, l)
		case <-timer.C:
			release()
			return nil, Errf(KindContention, "timed out waiting for account %s", id)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}

	return release, nil
}
