// ABOUTME: Tests for the subscription service operations
// ABOUTME: Covers extension arithmetic, validation, status, guard, corruption, and concurrency

package subscription

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const periodSecs = int64(2592000)

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

type recordingObserver struct {
	mu       sync.Mutex
	extended []*Extension
	rejected []string
}

func (o *recordingObserver) Extended(_ context.Context, ext *Extension) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extended = append(o.extended, ext)
}

func (o *recordingObserver) Rejected(_ context.Context, identity string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, identity)
}

func newTestService(t *testing.T, now func() time.Time, opts ...Option) (*Service, *FileStore) {
	t.Helper()
	store := setupTestFileStore(t)
	require.NoError(t, store.Init())
	opts = append([]Option{WithClock(now), WithLogger(testLogger())}, opts...)
	return NewService(store, opts...), store
}

func TestService_ExtendScenario(t *testing.T) {
	svc, _ := newTestService(t, fixedClock(1000))
	ctx := context.Background()

	ext, err := svc.Extend(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2593000), ext.Expiry.Unix())
	assert.Equal(t, int64(0), ext.Previous.Unix())
	assert.Equal(t, int64(1), ext.Cost.Used)
	assert.Equal(t, DefaultCurrency, ext.Cost.Currency)

	ext, err = svc.Extend(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2593000), ext.Previous.Unix())
	assert.Equal(t, int64(7777000), ext.Expiry.Unix())
	assert.Equal(t, int64(2), ext.Cost.Used)
}

func TestService_ExtendBackToBackIsAdditive(t *testing.T) {
	ctx := context.Background()

	split, _ := newTestService(t, fixedClock(1000))
	_, err := split.Extend(ctx, "alice", 3)
	require.NoError(t, err)
	ext, err := split.Extend(ctx, "alice", 4)
	require.NoError(t, err)

	summed, _ := newTestService(t, fixedClock(1000))
	once, err := summed.Extend(ctx, "alice", 7)
	require.NoError(t, err)

	assert.Equal(t, once.Expiry, ext.Expiry)
}

func TestService_ExtendLapsedStartsFromNow(t *testing.T) {
	now := int64(1000)
	svc, _ := newTestService(t, func() time.Time { return time.Unix(now, 0) })
	ctx := context.Background()

	_, err := svc.Extend(ctx, "alice", 1)
	require.NoError(t, err)

	// Jump well past expiry.
	now = 10 * periodSecs
	ext, err := svc.Extend(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, now+periodSecs, ext.Expiry.Unix())
}

func TestService_ExtendNeverRegresses(t *testing.T) {
	now := int64(50_000_000)
	svc, store := newTestService(t, func() time.Time { return time.Unix(now, 0) })
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, Ledger{"alice": 90_000_000}))

	// Clock moves backwards relative to the stored expiry; extension still builds on it.
	now = 1000
	ext, err := svc.Extend(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(90_000_000)+periodSecs, ext.Expiry.Unix())
}

func TestService_ExtendNearMaxExpiry(t *testing.T) {
	svc, store := newTestService(t, fixedClock(1000))
	ctx := context.Background()
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"alice": 9223372036854000000}`), 0644))

	before, err := svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, MaxExpiryUnix, before.Expiry.Unix())

	_, err = svc.Extend(ctx, "alice", 1)
	require.ErrorIs(t, err, ErrExpiryOverflow)

	after, err := svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before.Expiry, after.Expiry, "a rejected extension must not move the expiry")
	assert.True(t, after.Active)
}

func TestService_ExtendUpToMaxExpiry(t *testing.T) {
	svc, store := newTestService(t, fixedClock(1000))
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, Ledger{"alice": MaxExpiryUnix - periodSecs}))

	ext, err := svc.Extend(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, MaxExpiryUnix, ext.Expiry.Unix())

	_, err = svc.Extend(ctx, "alice", 1)
	assert.ErrorIs(t, err, ErrExpiryOverflow)
	assert.Equal(t, MaxExpiryUnix, store.Read(ctx)["alice"])
}

func TestService_ExtendValidation(t *testing.T) {
	svc, store := newTestService(t, fixedClock(1000))
	ctx := context.Background()

	for _, periods := range []int{0, -1, MaxPeriods + 1} {
		_, err := svc.Extend(ctx, "alice", periods)
		assert.ErrorIs(t, err, ErrInvalidPeriods, "periods=%d", periods)
	}

	_, err := svc.Extend(ctx, "", 1)
	assert.ErrorIs(t, err, ErrMissingIdentity)

	assert.Empty(t, store.Read(ctx), "rejected requests must not mutate the ledger")
}

func TestService_ExtendCustomPeriodAndCost(t *testing.T) {
	svc, _ := newTestService(t, fixedClock(1000),
		WithPeriod(time.Hour),
		WithUnitCost(5, "Credits"),
	)

	ext, err := svc.Extend(context.Background(), "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1000+3*3600), ext.Expiry.Unix())
	assert.Equal(t, Cost{Currency: "Credits", Used: 15}, ext.Cost)
	assert.Equal(t, time.Hour, svc.Period())
}

func TestService_StatusNeverExtended(t *testing.T) {
	svc, _ := newTestService(t, fixedClock(1000))

	st, err := svc.Status(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.False(t, st.Subscribed)
	assert.Zero(t, st.Remaining)
}

func TestService_StatusActiveAndLapsed(t *testing.T) {
	now := int64(1000)
	svc, _ := newTestService(t, func() time.Time { return time.Unix(now, 0) })
	ctx := context.Background()

	_, err := svc.Extend(ctx, "alice", 1)
	require.NoError(t, err)

	st, err := svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.True(t, st.Subscribed)
	assert.Equal(t, int64(2593000), st.Expiry.Unix())
	assert.Equal(t, time.Duration(periodSecs)*time.Second, st.Remaining)

	now = 2593000
	st, err = svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.True(t, st.Subscribed, "lapsed entries stay in the ledger")
}

func TestService_StatusMissingIdentity(t *testing.T) {
	svc, _ := newTestService(t, fixedClock(1000))

	_, err := svc.Status(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestService_CorruptLedgerBehavesAsEmpty(t *testing.T) {
	svc, store := newTestService(t, fixedClock(1000))
	ctx := context.Background()
	require.NoError(t, os.WriteFile(store.Path(), []byte("this is not json"), 0644))

	st, err := svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, st.Active)

	ext, err := svc.Extend(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2593000), ext.Expiry.Unix())
	assert.Equal(t, Ledger{"alice": 2593000}, store.Read(ctx))
}

func TestService_ConcurrentExtendsNoLostUpdates(t *testing.T) {
	svc, store := newTestService(t, fixedClock(1000))
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Extend(ctx, "alice", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ledger := store.Read(ctx)
	require.Len(t, ledger, 1)
	assert.Equal(t, 1000+n*periodSecs, ledger["alice"])
}

func TestService_GuardRejectsInactive(t *testing.T) {
	obs := &recordingObserver{}
	svc, _ := newTestService(t, fixedClock(1000), WithObserver(obs))

	called := false
	err := svc.Guard(context.Background(), "alice", func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrSubscriptionOver)
	assert.False(t, called, "guarded op must not run for an inactive identity")
	assert.Equal(t, []string{"alice"}, obs.rejected)
}

func TestService_GuardRunsOpForActive(t *testing.T) {
	svc, _ := newTestService(t, fixedClock(1000))
	ctx := context.Background()
	_, err := svc.Extend(ctx, "alice", 1)
	require.NoError(t, err)

	opErr := errors.New("downstream failed")
	err = svc.Guard(ctx, "alice", func(context.Context) error {
		return opErr
	})
	assert.ErrorIs(t, err, opErr, "errors from the op pass through unchanged")

	err = svc.Guard(ctx, "alice", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestService_ObserverSeesExtensions(t *testing.T) {
	obs := &recordingObserver{}
	svc, _ := newTestService(t, fixedClock(1000), WithObserver(obs))

	_, err := svc.Extend(context.Background(), "alice", 2)
	require.NoError(t, err)

	require.Len(t, obs.extended, 1)
	assert.Equal(t, "alice", obs.extended[0].Identity)
	assert.Equal(t, 2, obs.extended[0].Periods)
}
