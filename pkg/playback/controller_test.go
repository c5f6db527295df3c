package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/playback/pkg/logging"
	"github.com/entrhq/playback/pkg/types"
	"github.com/entrhq/playback/pkg/widget"
	"github.com/entrhq/playback/pkg/widget/widgettest"
)

// recorder collects lifecycle events.
type recorder struct {
	mu     sync.Mutex
	events []*types.Event
}

func (r *recorder) emit(ev *types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(t types.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) first(t types.EventType) *types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == t {
			return ev
		}
	}
	return nil
}

func testOptions() Options {
	return Options{
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Recovery: RecoveryPolicy{
			SettleDelay:   5 * time.Millisecond,
			QualityDelay:  5 * time.Millisecond,
			RecreateDelay: 20 * time.Millisecond,
			OnlineDelay:   5 * time.Millisecond,
		},
		Parents: []string{"localhost"},
	}
}

func newTestController(t *testing.T, opts Options) (*Controller, *widgettest.Endpoint, *recorder) {
	t.Helper()
	ep := widgettest.NewEndpoint()
	rec := &recorder{}
	c, err := New(opts, ep, logging.Nop(), rec.emit)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, ep, rec
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(DefaultOptions(), nil, nil, nil)
	assert.Error(t, err)
}

func TestCreateOrReplaceRegistersStableHandle(t *testing.T) {
	c, ep, rec := newTestController(t, testOptions())

	h, err := c.CreateOrReplace(context.Background(), Request{ID: "p1", Channel: "alpha", Options: widget.PlayerOptions{Quality: "160p"}})
	require.NoError(t, err)

	assert.Equal(t, "p1", h.ID())
	assert.Equal(t, "alpha", h.Channel())
	assert.Equal(t, 1, c.Count())

	state, ok := c.State("p1")
	require.True(t, ok)
	assert.Equal(t, StateStable, state)

	cons := ep.Constructions()
	require.Len(t, cons, 1)
	assert.Equal(t, "p1", cons[0].Container)
	assert.Equal(t, []string{"localhost"}, cons[0].Options.Parents)
	assert.Equal(t, 1, rec.count(types.EventTypeHandleCreated))
}

func TestCreateOrReplaceGeneratesID(t *testing.T) {
	c, _, _ := newTestController(t, testOptions())

	h, err := c.CreateOrReplace(context.Background(), Request{Channel: "alpha"})
	require.NoError(t, err)
	assert.Len(t, h.ID(), 36)
	assert.Equal(t, h.ID(), h.Container().Name())
}

func TestCreateOrReplaceRequiresChannel(t *testing.T) {
	c, ep, _ := newTestController(t, testOptions())

	_, err := c.CreateOrReplace(context.Background(), Request{ID: "p1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, ep.Constructions())
}

func TestCreateOrReplaceIsSingleFlight(t *testing.T) {
	c, ep, _ := newTestController(t, testOptions())
	ep.SetDelays(0, 100*time.Millisecond)

	const callers = 8
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		handles = make([]*Handle, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			h, err := c.CreateOrReplace(context.Background(), Request{ID: "x", Channel: "alpha"})
			if assert.NoError(t, err) {
				handles[i] = h
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, ep.MaxConcurrent("x"))
	assert.Len(t, ep.Constructions(), 1)
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, 1, c.Count())
}

func TestCreateOrReplaceReplacesExisting(t *testing.T) {
	c, ep, rec := newTestController(t, testOptions())
	ctx := context.Background()

	_, err := c.CreateOrReplace(ctx, Request{ID: "p1", Channel: "alpha"})
	require.NoError(t, err)
	old := ep.LastPlayer()
	old.FailDestroy(errors.New("detached"))

	h, err := c.CreateOrReplace(ctx, Request{ID: "p1", Channel: "beta"})
	require.NoError(t, err)

	assert.True(t, old.Destroyed())
	assert.Equal(t, 0, old.Subscribers(widget.EventError))
	assert.Equal(t, "beta", h.Channel())
	assert.Equal(t, 1, c.Count())
	assert.Equal(t, 1, rec.count(types.EventTypeHandleDestroyed))
	assert.Equal(t, 1, rec.count(types.EventTypeTeardownFailed), "teardown errors are reported, not returned")
}

func TestConstructionFailureIsNotRegistered(t *testing.T) {
	c, ep, rec := newTestController(t, testOptions())
	ep.FailConstruct(errors.New("a"), errors.New("b"), errors.New("c"))

	_, err := c.CreateOrReplace(context.Background(), Request{ID: "p1", Channel: "alpha"})
	require.ErrorIs(t, err, ErrConstructionFailed)

	assert.Equal(t, 0, c.Count())
	_, ok := c.State("p1")
	assert.False(t, ok)

	ev := rec.first(types.EventTypeConstructionFailed)
	require.NotNil(t, ev)
	assert.ErrorIs(t, ev.Error, ErrConstructionFailed)
}

func TestDestroyThenTouchLeavesIDAbsent(t *testing.T) {
	c, ep, rec := newTestController(t, testOptions())

	_, err := c.CreateOrReplace(context.Background(), Request{ID: "p1", Channel: "alpha"})
	require.NoError(t, err)
	player := ep.LastPlayer()
	player.FailDestroy(errors.New("boom"))

	assert.True(t, c.Destroy("p1"))
	assert.False(t, c.Touch("p1"))

	assert.Equal(t, 0, c.Count())
	assert.True(t, player.Destroyed())

	ev := rec.first(types.EventTypeTeardownFailed)
	require.NotNil(t, ev)
	assert.ErrorIs(t, ev.Error, ErrTeardown)

	assert.False(t, c.Destroy("p1"), "second destroy is a no-op")
}

func TestLookup(t *testing.T) {
	c, _, _ := newTestController(t, testOptions())

	_, err := c.Lookup("p1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.CreateOrReplace(context.Background(), Request{ID: "p1", Channel: "alpha", Options: widget.PlayerOptions{Quality: "160p"}})
	require.NoError(t, err)

	info, err := c.Lookup("p1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", info.Channel)
	assert.Equal(t, "160p", info.Quality)
	assert.Equal(t, "stable", info.State)

	all := c.Handles()
	require.Len(t, all, 1)
	assert.Equal(t, info, all[0])
}

func TestCapacity(t *testing.T) {
	opts := testOptions()
	opts.MaxHandles = 1
	c, _, _ := newTestController(t, opts)
	ctx := context.Background()

	_, err := c.CreateOrReplace(ctx, Request{ID: "p1", Channel: "alpha"})
	require.NoError(t, err)

	_, err = c.CreateOrReplace(ctx, Request{ID: "p2", Channel: "beta"})
	assert.ErrorIs(t, err, ErrCapacity)

	_, err = c.CreateOrReplace(ctx, Request{ID: "p1", Channel: "gamma"})
	assert.NoError(t, err, "replacing an id does not count against the cap")
	assert.Equal(t, 1, c.Count())
}

func TestThrottleDelaysAdmission(t *testing.T) {
	opts := testOptions()
	opts.Throttle = 30 * time.Millisecond
	c, _, _ := newTestController(t, opts)

	start := time.Now()
	_, err := c.CreateOrReplace(context.Background(), Request{ID: "p1", Channel: "alpha"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestCloseDestroysEverything(t *testing.T) {
	c, ep, _ := newTestController(t, testOptions())
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := c.CreateOrReplace(ctx, Request{ID: id, Channel: "alpha"})
		require.NoError(t, err)
	}

	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Count())
	for _, p := range ep.Players() {
		assert.True(t, p.Destroyed())
	}

	_, err := c.CreateOrReplace(ctx, Request{ID: "p4", Channel: "alpha"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Close(), ErrClosed)
}

func TestSweepReapsOnlyIdleStableHandles(t *testing.T) {
	opts := testOptions()
	opts.IdleThreshold = time.Minute
	c, _, rec := newTestController(t, opts)
	ctx := context.Background()

	for _, id := range []string{"idle", "busy", "fresh"} {
		_, err := c.CreateOrReplace(ctx, Request{ID: id, Channel: "alpha"})
		require.NoError(t, err)
	}

	busy, _ := c.registry.Get("busy")
	_, ok := busy.beginRecovery()
	require.True(t, ok)

	later := time.Now().Add(2 * time.Minute)
	fresh, _ := c.registry.Get("fresh")
	fresh.touch(later)

	c.sweep(later)

	assert.Equal(t, 2, c.Count())
	_, ok = c.State("idle")
	assert.False(t, ok)
	assert.Equal(t, 1, rec.count(types.EventTypeHandleReaped))

	busy.finishRecovery()
	c.sweep(later)
	assert.Equal(t, 1, c.Count())
}

func TestSweepSkipsHeldIDs(t *testing.T) {
	c, _, _ := newTestController(t, testOptions())

	_, err := c.CreateOrReplace(context.Background(), Request{ID: "p1", Channel: "alpha"})
	require.NoError(t, err)

	release, err := c.gate.Acquire(context.Background(), "p1")
	require.NoError(t, err)
	c.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 1, c.Count())

	release()
	c.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 0, c.Count())
}

func TestReaperDrainsIdleHandles(t *testing.T) {
	clock := clockwork.NewFakeClock()
	opts := testOptions()
	opts.Clock = clock
	opts.ReapInterval = 30 * time.Second
	opts.IdleThreshold = 60 * time.Second
	c, ep, _ := newTestController(t, opts)

	for _, id := range []string{"a", "b", "c"} {
		_, err := c.CreateOrReplace(context.Background(), Request{ID: id, Channel: "alpha"})
		require.NoError(t, err)
	}
	require.Equal(t, 3, c.Count())

	clock.Advance(61 * time.Second)
	require.Eventually(t, func() bool {
		clock.Advance(opts.ReapInterval)
		return c.Count() == 0
	}, time.Second, 10*time.Millisecond)

	for _, p := range ep.Players() {
		assert.True(t, p.Destroyed())
	}
}

func TestTouchKeepsHandleAlive(t *testing.T) {
	clock := clockwork.NewFakeClock()
	opts := testOptions()
	opts.Clock = clock
	opts.IdleThreshold = 60 * time.Second
	c, _, _ := newTestController(t, opts)

	_, err := c.CreateOrReplace(context.Background(), Request{ID: "p1", Channel: "alpha"})
	require.NoError(t, err)

	clock.Advance(50 * time.Second)
	assert.True(t, c.Touch("p1"))
	clock.Advance(50 * time.Second)
	c.sweep(clock.Now())
	assert.Equal(t, 1, c.Count())

	clock.Advance(11 * time.Second)
	c.sweep(clock.Now())
	assert.Equal(t, 0, c.Count())
}
