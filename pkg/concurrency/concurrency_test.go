package concurrency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-shibuki/lyra/pkg/concurrency"
)

func TestTabPool_BackoffShrinksAndRecovers(t *testing.T) {
	backoff := concurrency.BackoffConfig{DecreaseStep: 1, RecoveryStableSeconds: 0}
	pool := concurrency.NewTabPool(3, backoff)

	assert.Equal(t, 3, pool.EffectiveMaxTabs())

	pool.Backoff()
	assert.Equal(t, 2, pool.EffectiveMaxTabs())

	ctx := context.Background()
	tab, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(tab)
	assert.Equal(t, 3, pool.EffectiveMaxTabs(), "release after a stable backoff window should grow the cap back")
}

func TestTabPool_NeverExceedsEffectiveCapacity(t *testing.T) {
	pool := concurrency.NewTabPool(2, concurrency.BackoffConfig{DecreaseStep: 1, RecoveryStableSeconds: time.Hour})
	ctx := context.Background()

	t1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = pool.Acquire(ctx)
	require.NoError(t, err)

	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx2)
	assert.Error(t, err, "a third acquire should block until a slot frees")

	pool.Release(t1)
}

func TestEngineLimiter_SerializesAccess(t *testing.T) {
	limiter := concurrency.NewEngineLimiter(time.Millisecond)
	ctx := context.Background()

	release, err := limiter.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r2, err := limiter.Acquire(ctx)
		require.NoError(t, err)
		close(acquired)
		r2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should not complete while the first holds the engine")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	<-acquired
}
