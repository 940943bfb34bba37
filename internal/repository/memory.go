package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryLockRepository is a process-local lock with expiry, used when redis
// is not configured or unreachable.
type MemoryLockRepository struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

func NewMemoryLockRepository() *MemoryLockRepository {
	return &MemoryLockRepository{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (r *MemoryLockRepository) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiresAt, ok := r.locks[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	r.locks[key] = now.Add(ttl)
	return true, nil
}

func (r *MemoryLockRepository) Unlock(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.locks, key)
	r.mu.Unlock()
	return nil
}
