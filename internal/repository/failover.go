package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"bookflow/internal/domain"
)

const recoveryInterval = time.Minute

// FailoverLockRepository prefers the primary lock store and switches to the
// fallback when it errors. The primary is retried once per minute.
type FailoverLockRepository struct {
	primary   domain.LockRepository
	fallback  domain.LockRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverLockRepository(primary, fallback domain.LockRepository, logger *zerolog.Logger) *FailoverLockRepository {
	return &FailoverLockRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverLockRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary lock repository failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverLockRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverLockRepository) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.TryLock(ctx, key, ttl)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary lock repository recovered")
			}
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.TryLock(ctx, key, ttl)
}

func (r *FailoverLockRepository) Unlock(ctx context.Context, key string) error {
	// The fallback may hold the key if it was taken while the primary was down.
	_ = r.fallback.Unlock(ctx, key)
	if r.isDown.Load() {
		return nil
	}
	if err := r.primary.Unlock(ctx, key); err != nil {
		r.markDown(err)
		return err
	}
	return nil
}
