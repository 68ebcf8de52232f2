package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-collector/models"
	"property-collector/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type failingStore struct {
	*MemoryStore
	fail atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) Save(ctx context.Context, rec models.QuotaRecord) error {
	if s.fail.Load() {
		return errDiskFull
	}
	return s.MemoryStore.Save(ctx, rec)
}

func newTestManager(t *testing.T, store Store, limits Limits, clock *fakeClock) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), store, limits, utils.NewNopLogger(), WithClock(clock.Now))
	require.NoError(t, err)
	return m
}

func march() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)}
}

func TestManagerLastUnitOfBudget(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, NewMemoryStore(), Limits{"rentcast": intPtr(50)}, march())

	for i := 0; i < 49; i++ {
		require.NoError(t, m.Record(ctx, "rentcast", 1))
	}

	assert.True(t, m.Check("rentcast", 1))
	require.NoError(t, m.Record(ctx, "rentcast", 1))
	assert.False(t, m.Check("rentcast", 1))

	err := m.Record(ctx, "rentcast", 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	st := m.Status("rentcast")
	assert.Equal(t, 50, st.Used)
	require.NotNil(t, st.Remaining)
	assert.Equal(t, 0, *st.Remaining)
	assert.Equal(t, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), st.ResetDate)
}

func TestManagerCheckDoesNotMutate(t *testing.T) {
	store := NewMemoryStore()
	m := newTestManager(t, store, Limits{"zillow": intPtr(100)}, march())

	for i := 0; i < 10; i++ {
		assert.True(t, m.Check("zillow", 1))
	}

	assert.Equal(t, 0, m.Status("zillow").Used)
	recs, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, m.History("zillow"))
}

func TestManagerUnknownSourceUsesDefaultLimit(t *testing.T) {
	m := newTestManager(t, NewMemoryStore(), DefaultLimits(), march())

	st := m.Status("mystery")
	require.NotNil(t, st.Limit)
	assert.Equal(t, DefaultLimit, *st.Limit)
	assert.True(t, m.Check("mystery", DefaultLimit))
	assert.False(t, m.Check("mystery", DefaultLimit+1))
}

func TestManagerUnlimitedSource(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, NewMemoryStore(), DefaultLimits(), march())

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Record(ctx, "demo", 1000))
	}
	st := m.Status("demo")
	assert.Nil(t, st.Limit)
	assert.Nil(t, st.Remaining)
	assert.Equal(t, 5000, st.Used)
	assert.True(t, m.Check("demo", 1_000_000))
}

func TestManagerMonthRolloverKeepsHistory(t *testing.T) {
	ctx := context.Background()
	clock := march()
	store := NewMemoryStore()
	m := newTestManager(t, store, Limits{"rentcast": intPtr(2)}, clock)

	require.NoError(t, m.Record(ctx, "rentcast", 2))
	assert.False(t, m.Check("rentcast", 1))

	clock.Set(time.Date(2024, time.April, 1, 0, 0, 1, 0, time.UTC))
	assert.True(t, m.Check("rentcast", 1))
	assert.Equal(t, 0, m.Status("rentcast").Used)

	require.NoError(t, m.Record(ctx, "rentcast", 1))

	hist := m.History("rentcast")
	require.Len(t, hist, 2)
	assert.Equal(t, time.March, hist[0].PeriodStart.Month())
	assert.Equal(t, 2, hist[0].UsedCount)
	assert.Equal(t, time.April, hist[1].PeriodStart.Month())
	assert.Equal(t, 1, hist[1].UsedCount)
}

func TestManagerConcurrentRecordNeverOvershoots(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, NewMemoryStore(), Limits{"rentcast": intPtr(50)}, march())

	var ok, denied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Record(ctx, "rentcast", 1)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrQuotaExceeded):
				denied.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), ok.Load())
	assert.Equal(t, int32(150), denied.Load())
	assert.Equal(t, 50, m.Status("rentcast").Used)
}

func TestManagerPersistenceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: NewMemoryStore()}
	m := newTestManager(t, store, Limits{"rentcast": intPtr(50)}, march())

	require.NoError(t, m.Record(ctx, "rentcast", 3))

	store.fail.Store(true)
	err := m.Record(ctx, "rentcast", 1)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "rentcast", perr.SourceID)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 3, m.Status("rentcast").Used)

	store.fail.Store(false)
	require.NoError(t, m.Record(ctx, "rentcast", 1))
	assert.Equal(t, 4, m.Status("rentcast").Used)
}

func TestManagerReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	clock := march()
	store := NewMemoryStore()

	m := newTestManager(t, store, Limits{"zillow": intPtr(100)}, clock)
	require.NoError(t, m.Record(ctx, "zillow", 7))

	reloaded := newTestManager(t, store, Limits{"zillow": intPtr(100)}, clock)
	assert.Equal(t, 7, reloaded.Status("zillow").Used)
}

func TestManagerClampsOvershootOnLoad(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), models.QuotaRecord{
		SourceID:    "rentcast",
		PeriodStart: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		UsedCount:   80,
		Limit:       intPtr(50),
	}))

	m := newTestManager(t, store, Limits{"rentcast": intPtr(50)}, march())
	st := m.Status("rentcast")
	assert.Equal(t, 50, st.Used)
	assert.False(t, m.Check("rentcast", 1))
}

func TestManagerLoadLeavesClosedPeriodsAsStored(t *testing.T) {
	store := NewMemoryStore()
	feb := models.QuotaRecord{
		SourceID:    "rentcast",
		PeriodStart: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		UsedCount:   70,
		Limit:       intPtr(60),
	}
	require.NoError(t, store.Save(context.Background(), feb))

	m := newTestManager(t, store, Limits{"rentcast": intPtr(50)}, march())
	hist := m.History("rentcast")
	require.Len(t, hist, 1)
	assert.Equal(t, 70, hist[0].UsedCount)
	require.NotNil(t, hist[0].Limit)
	assert.Equal(t, 60, *hist[0].Limit)

	assert.Equal(t, 0, m.Status("rentcast").Used)
}

func TestManagerReadsDoNotRegisterSources(t *testing.T) {
	m := newTestManager(t, NewMemoryStore(), DefaultLimits(), march())

	assert.True(t, m.Check("typo", 1))
	_ = m.Status("typo")
	assert.Empty(t, m.History("typo"))

	assert.NotContains(t, m.Sources(), "typo")
	assert.NotContains(t, m.StatusAll(), "typo")
	assert.Len(t, m.StatusAll(), 4)
}

func TestManagerExhaust(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, NewMemoryStore(), Limits{"rentcast": intPtr(10)}, march())

	require.NoError(t, m.Record(ctx, "rentcast", 4))
	require.NoError(t, m.Exhaust(ctx, "rentcast"))
	assert.Equal(t, 10, m.Status("rentcast").Used)
	assert.False(t, m.Check("rentcast", 1))

	// no-op for unlimited sources
	require.NoError(t, m.Exhaust(ctx, "demo"))
}

func TestManagerSetLimitAndReset(t *testing.T) {
	ctx := context.Background()
	var observed []models.QuotaStatus
	clock := march()
	m, err := NewManager(ctx, NewMemoryStore(), Limits{"rentcast": intPtr(5)}, utils.NewNopLogger(),
		WithClock(clock.Now),
		WithObserver(func(st models.QuotaStatus) { observed = append(observed, st) }))
	require.NoError(t, err)

	require.NoError(t, m.Record(ctx, "rentcast", 5))
	assert.False(t, m.Check("rentcast", 1))

	require.NoError(t, m.SetLimit(ctx, "rentcast", intPtr(8)))
	assert.True(t, m.Check("rentcast", 3))
	assert.False(t, m.Check("rentcast", 4))

	require.NoError(t, m.Reset(ctx, "rentcast"))
	assert.Equal(t, 0, m.Status("rentcast").Used)

	require.Len(t, observed, 3)
	assert.Equal(t, 0, observed[2].Used)
}

func TestManagerSetLimitSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	clock := march()
	store := NewMemoryStore()
	configured := Limits{"rentcast": intPtr(5)}

	m := newTestManager(t, store, configured, clock)
	require.NoError(t, m.Record(ctx, "rentcast", 5))
	require.NoError(t, m.SetLimit(ctx, "rentcast", intPtr(8)))

	reloaded := newTestManager(t, store, configured, clock)
	st := reloaded.Status("rentcast")
	require.NotNil(t, st.Limit)
	assert.Equal(t, 8, *st.Limit)
	assert.True(t, reloaded.Check("rentcast", 3))

	// the configured limit applies again from the next month
	clock.Set(time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC))
	st = reloaded.Status("rentcast")
	require.NotNil(t, st.Limit)
	assert.Equal(t, 5, *st.Limit)
}

func TestManagerStatusAllIncludesConfiguredSources(t *testing.T) {
	m := newTestManager(t, NewMemoryStore(), DefaultLimits(), march())

	all := m.StatusAll()
	assert.Len(t, all, 4)
	for _, src := range []string{"rentcast", "zillow", "rentspider", "demo"} {
		assert.Contains(t, all, src)
	}
	assert.Equal(t, []string{"demo", "rentcast", "rentspider", "zillow"}, m.Sources())
}
