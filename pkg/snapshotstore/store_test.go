package snapshotstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/guildlink/pkg/aggregator"
	"github.com/illmade-knight/guildlink/pkg/cache"
	"github.com/illmade-knight/guildlink/pkg/snapshotstore"
	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ttl = 10 * time.Minute

// fakeClock is a manually advanced clock shared by the store and the recompute func.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingRecompute builds snapshots stamped with the fake clock and counts passes.
type countingRecompute struct {
	clock *fakeClock
	calls atomic.Int32
	delay time.Duration
	err   error
	gate  chan struct{}
}

func (r *countingRecompute) run(ctx context.Context) (*types.Snapshot, error) {
	n := r.calls.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &types.Snapshot{
		ID:               fmt.Sprintf("snap-%d", n),
		LinkedCharacters: []types.GroupedResult{{Main: "HeroA", Alts: []string{"AltX", "AltY"}}},
		CreatedAt:        r.clock.Now(),
	}, nil
}

func newStore(t *testing.T, rc *countingRecompute, backend cache.SnapshotBackend) *snapshotstore.Store {
	t.Helper()
	store, err := snapshotstore.New(snapshotstore.Config{TTL: ttl}, rc.run, backend, zerolog.Nop())
	require.NoError(t, err)
	return store.WithClock(rc.clock.Now)
}

func TestStore_FreshSnapshotIsServedVerbatim(t *testing.T) {
	// Arrange
	ctx := context.Background()
	rc := &countingRecompute{clock: newFakeClock()}
	store := newStore(t, rc, nil)
	assert.Equal(t, snapshotstore.StateEmpty, store.State())

	// Act
	first, err := store.Get(ctx)
	require.NoError(t, err)
	rc.clock.Advance(ttl - time.Second)
	second, err := store.Get(ctx)
	require.NoError(t, err)

	// Assert
	assert.Same(t, first, second)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, int32(1), rc.calls.Load())
	assert.Equal(t, snapshotstore.StateFresh, store.State())
}

func TestStore_StaleSnapshotIsRecomputed(t *testing.T) {
	ctx := context.Background()
	rc := &countingRecompute{clock: newFakeClock()}
	store := newStore(t, rc, nil)

	first, err := store.Get(ctx)
	require.NoError(t, err)

	// At exactly created_at + TTL the snapshot is stale.
	rc.clock.Advance(ttl)
	assert.Equal(t, snapshotstore.StateStale, store.State())

	second, err := store.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(2), rc.calls.Load())
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, second.CreatedAt.After(first.CreatedAt))
}

func TestStore_ConcurrentStaleReadsCollapseIntoOneRecompute(t *testing.T) {
	// Arrange
	ctx := context.Background()
	rc := &countingRecompute{clock: newFakeClock(), gate: make(chan struct{})}
	store := newStore(t, rc, nil)

	const readers = 25
	var wg sync.WaitGroup
	results := make([]*types.Snapshot, readers)
	errs := make([]error, readers)

	// Act: every reader arrives while the first pass is held at the gate.
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.Get(ctx)
		}(i)
	}
	require.Eventually(t, func() bool { return rc.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(rc.gate)
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), rc.calls.Load(), "exactly one upstream fan-out")
	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i], "laggards receive the in-flight result")
	}
}

func TestStore_CancelledFirstReaderDoesNotAbortSharedRecompute(t *testing.T) {
	// Arrange: the first reader takes the recompute lock with a cancellable context.
	rc := &countingRecompute{clock: newFakeClock(), gate: make(chan struct{})}
	store := newStore(t, rc, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	var first *types.Snapshot
	var firstErr error
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		first, firstErr = store.Get(firstCtx)
	}()
	require.Eventually(t, func() bool { return rc.calls.Load() == 1 }, time.Second, time.Millisecond)

	const laggards = 5
	var wg sync.WaitGroup
	results := make([]*types.Snapshot, laggards)
	errs := make([]error, laggards)
	for i := 0; i < laggards; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.Get(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)

	// Act: the first reader goes away, then the pass completes.
	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(rc.gate)
	wg.Wait()
	<-firstDone

	// Assert
	assert.Equal(t, int32(1), rc.calls.Load(), "exactly one upstream fan-out")
	require.NoError(t, firstErr)
	assert.Equal(t, "snap-1", first.ID)
	for i := 0; i < laggards; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "snap-1", results[i].ID)
	}
}

func TestStore_RecomputeTimeoutBoundsThePass(t *testing.T) {
	rc := &countingRecompute{clock: newFakeClock(), gate: make(chan struct{})}
	store, err := snapshotstore.New(snapshotstore.Config{TTL: ttl, RecomputeTimeout: 20 * time.Millisecond}, rc.run, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = store.Get(context.Background())

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, snapshotstore.StateEmpty, store.State())
}

func TestStore_StatusUsesStoreClock(t *testing.T) {
	rc := &countingRecompute{clock: newFakeClock()}
	store := newStore(t, rc, nil)
	assert.Equal(t, snapshotstore.Status{State: snapshotstore.StateEmpty}, store.Status())

	_, err := store.Get(context.Background())
	require.NoError(t, err)
	rc.clock.Advance(ttl + time.Minute)

	status := store.Status()
	assert.Equal(t, snapshotstore.StateStale, status.State)
	assert.Equal(t, ttl+time.Minute, status.Age)
	require.NotNil(t, status.Snapshot)
	assert.Equal(t, "snap-1", status.Snapshot.ID)
}

func TestStore_ResetForcesRecompute(t *testing.T) {
	ctx := context.Background()
	rc := &countingRecompute{clock: newFakeClock()}
	backend := cache.NewInMemorySnapshotBackend()
	store := newStore(t, rc, backend)

	_, err := store.Get(ctx)
	require.NoError(t, err)
	rc.clock.Advance(time.Second)

	require.NoError(t, store.Reset(ctx))
	assert.Equal(t, snapshotstore.StateEmpty, store.State())
	_, ok := store.Current()
	assert.False(t, ok)
	_, err = backend.Load(ctx)
	assert.ErrorIs(t, err, cache.ErrSnapshotNotFound, "reset empties the persisted slot")

	second, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), rc.calls.Load())
	assert.Equal(t, "snap-2", second.ID)
}

func TestStore_ResetTwiceYieldsEqualSnapshots(t *testing.T) {
	ctx := context.Background()
	rc := &countingRecompute{clock: newFakeClock()}
	store := newStore(t, rc, nil)

	first, err := store.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))
	second, err := store.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.LinkedCharacters, second.LinkedCharacters)
}

func TestStore_FailedRecomputeKeepsPreviousSnapshot(t *testing.T) {
	// Arrange
	ctx := context.Background()
	rc := &countingRecompute{clock: newFakeClock()}
	backend := cache.NewInMemorySnapshotBackend()
	store := newStore(t, rc, backend)
	previous, err := store.Get(ctx)
	require.NoError(t, err)

	// Act: the snapshot goes stale and the source guild disappears.
	rc.clock.Advance(ttl + time.Minute)
	rc.err = fmt.Errorf("%w: Kancho", aggregator.ErrSourceGuildNotFound)
	snapshot, err := store.Get(ctx)

	// Assert
	require.ErrorIs(t, err, aggregator.ErrSourceGuildNotFound)
	assert.Nil(t, snapshot)
	current, ok := store.Current()
	require.True(t, ok)
	assert.Same(t, previous, current, "prior snapshot is unaffected")
	persisted, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, previous.ID, persisted.ID)

	// Once the source recovers the next read recomputes.
	rc.err = nil
	snapshot, err = store.Get(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, previous.ID, snapshot.ID)
}

func TestStore_LoadRestoresPersistedSnapshot(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := cache.NewInMemorySnapshotBackend()
	persisted := &types.Snapshot{ID: "from-disk", CreatedAt: clock.Now().Add(-time.Minute)}
	require.NoError(t, backend.Save(ctx, persisted))

	rc := &countingRecompute{clock: clock}
	store := newStore(t, rc, backend)
	require.NoError(t, store.Load(ctx))

	snapshot, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-disk", snapshot.ID)
	assert.Equal(t, int32(0), rc.calls.Load())

	t.Run("stale persisted snapshot is recomputed", func(t *testing.T) {
		clock.Advance(ttl)
		snapshot, err := store.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "snap-1", snapshot.ID)
	})
}

func TestStore_LoadWithEmptyBackend(t *testing.T) {
	rc := &countingRecompute{clock: newFakeClock()}
	store := newStore(t, rc, cache.NewInMemorySnapshotBackend())

	require.NoError(t, store.Load(context.Background()))
	assert.Equal(t, snapshotstore.StateEmpty, store.State())
}

// failingBackend fails every operation.
type failingBackend struct{ cache.InMemorySnapshotBackend }

var errBackend = errors.New("backend unavailable")

func (*failingBackend) Save(context.Context, *types.Snapshot) error { return errBackend }

func (*failingBackend) Load(context.Context) (*types.Snapshot, error) { return nil, errBackend }

func TestStore_BackendFailureDoesNotFailRead(t *testing.T) {
	ctx := context.Background()
	rc := &countingRecompute{clock: newFakeClock()}
	store := newStore(t, rc, &failingBackend{})

	assert.ErrorIs(t, store.Load(ctx), errBackend)
	snapshot, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snap-1", snapshot.ID)
}

// recordingNotifier counts refresh notifications.
type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) SnapshotRefreshed(_ context.Context, s *types.Snapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, s.ID)
	return errors.New("notification sink down")
}

// forgetCounter counts Forget calls.
type forgetCounter struct{ n atomic.Int32 }

func (f *forgetCounter) Forget() { f.n.Add(1) }

func TestStore_NotifiesAndForgets(t *testing.T) {
	ctx := context.Background()
	rc := &countingRecompute{clock: newFakeClock()}
	notifier := &recordingNotifier{}
	memo := &forgetCounter{}
	store := newStore(t, rc, nil).WithNotifier(notifier).WithForgetters(memo)

	_, err := store.Get(ctx)
	require.NoError(t, err, "notifier failure never fails the read")
	_, err = store.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))
	_, err = store.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"snap-1", "snap-2"}, notifier.ids)
	assert.Equal(t, int32(1), memo.n.Load())
}

func TestStore_ResetDuringRecomputeDiscardsResult(t *testing.T) {
	// Arrange
	ctx := context.Background()
	rc := &countingRecompute{clock: newFakeClock(), gate: make(chan struct{})}
	store := newStore(t, rc, nil)

	done := make(chan *types.Snapshot)
	go func() {
		s, _ := store.Get(ctx)
		done <- s
	}()
	require.Eventually(t, func() bool { return rc.calls.Load() == 1 }, time.Second, time.Millisecond)

	// Act
	require.NoError(t, store.Reset(ctx))
	close(rc.gate)
	inFlight := <-done

	// Assert
	require.NotNil(t, inFlight, "the caller still gets its result")
	_, ok := store.Current()
	assert.False(t, ok, "a pass started before reset is not cached")
}

func TestNew_Validation(t *testing.T) {
	_, err := snapshotstore.New(snapshotstore.Config{TTL: ttl}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
	rc := &countingRecompute{clock: newFakeClock()}
	_, err = snapshotstore.New(snapshotstore.Config{}, rc.run, nil, zerolog.Nop())
	assert.Error(t, err)
}
