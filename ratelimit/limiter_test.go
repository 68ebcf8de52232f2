package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-collector/utils"
)

func TestAcquireUnlimitedSource(t *testing.T) {
	l := NewLimiter(map[string]Rule{"zero": {RequestsPerMinute: 0}}, time.Second, utils.NewNopLogger())

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background(), "unknown"))
		require.NoError(t, l.Acquire(context.Background(), "zero"))
	}
}

func TestAcquireBurstThenTimeout(t *testing.T) {
	l := NewLimiter(map[string]Rule{"rentcast": {RequestsPerMinute: 60, Burst: 2}}, 100*time.Millisecond, utils.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "rentcast"))
	require.NoError(t, l.Acquire(ctx, "rentcast"))

	start := time.Now()
	err := l.Acquire(ctx, "rentcast")
	assert.ErrorIs(t, err, ErrRateLimitTimeout)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "should fail without waiting")
}

func TestAcquireWaitsWithinBound(t *testing.T) {
	// 1200 rpm = one token every 50ms
	l := NewLimiter(map[string]Rule{"zillow": {RequestsPerMinute: 1200, Burst: 1}}, time.Second, utils.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "zillow"))
	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "zillow"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAcquireServesInArrivalOrder(t *testing.T) {
	// one token every 20ms
	l := NewLimiter(map[string]Rule{"rentspider": {RequestsPerMinute: 3000, Burst: 1}}, 5*time.Second, utils.NewNopLogger())
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "rentspider"))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := l.Acquire(ctx, "rentspider"); err != nil {
				t.Errorf("acquire %d: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}(i)
		// stagger arrivals so reservation order is known
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestAcquireContextCancellationIsNotTimeout(t *testing.T) {
	l := NewLimiter(map[string]Rule{"rentcast": {RequestsPerMinute: 1, Burst: 1}}, time.Hour, utils.NewNopLogger())
	require.NoError(t, l.Acquire(context.Background(), "rentcast"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, "rentcast")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, ErrRateLimitTimeout))
}
