package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockLocks struct {
	mock.Mock
}

func (m *mockLocks) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockLocks) Unlock(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func TestFailoverLockRepository(t *testing.T) {
	primary := new(mockLocks)
	fallback := NewMemoryLockRepository()
	logger := zerolog.New(io.Discard)
	repo := NewFailoverLockRepository(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("TryLock", ctx, "k1", time.Minute).Return(true, nil).Once()
		primary.On("Unlock", ctx, "k1").Return(nil).Once()

		ok, err := repo.TryLock(ctx, "k1", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, repo.Unlock(ctx, "k1"))
		assert.False(t, repo.isDown.Load())
	})

	t.Run("PrimaryFailure", func(t *testing.T) {
		primary.On("TryLock", ctx, "k2", time.Minute).Return(false, errors.New("redis down")).Once()

		ok, err := repo.TryLock(ctx, "k2", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, repo.isDown.Load())

		// still down: goes straight to the fallback without touching primary
		ok, err = repo.TryLock(ctx, "k2", time.Minute)
		assert.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, repo.Unlock(ctx, "k2"))
	})

	t.Run("Recovery", func(t *testing.T) {
		repo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
		primary.On("TryLock", ctx, "k3", time.Minute).Return(true, nil).Once()

		ok, err := repo.TryLock(ctx, "k3", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, repo.isDown.Load())
	})

	primary.AssertExpectations(t)
}
