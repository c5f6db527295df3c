package playback

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/entrhq/playback/pkg/logging"
	"github.com/entrhq/playback/pkg/types"
	"github.com/entrhq/playback/pkg/widget"
)

// Request describes a handle to create or replace.
type Request struct {
	// ID is the resource id; empty generates one.
	ID string

	// Container is the mount point; nil uses an element named after ID.
	Container widget.Container

	// Channel overrides Options.Channel when set.
	Channel string

	Options widget.PlayerOptions
}

// Controller owns every live player handle of a process.
type Controller struct {
	opts  Options
	clock clockwork.Clock
	log   *logging.Logger
	emit  types.EventEmitter

	builder   *Builder
	gate      *Gate
	registry  *Registry
	scheduler *Scheduler
	reaper    *Reaper
	flights   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New creates a controller backed by endpoint and starts its idle reaper.
// logger and emit may be nil.
func New(opts Options, endpoint widget.Endpoint, logger *logging.Logger, emit types.EventEmitter) (*Controller, error) {
	if endpoint == nil {
		return nil, errors.New("playback: endpoint is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:      opts,
		clock:     opts.Clock,
		log:       logger,
		emit:      emit,
		builder:   NewBuilder(endpoint, opts.Retry, opts.Clock, logger.Named("builder")),
		gate:      NewGate(),
		registry:  NewRegistry(),
		scheduler: NewScheduler(opts.Clock),
		ctx:       ctx,
		cancel:    cancel,
	}

	if opts.ReapInterval > 0 && opts.IdleThreshold > 0 {
		c.reaper = NewReaper(opts.Clock, opts.ReapInterval, c.sweep)
		c.reaper.Start()
	}
	return c, nil
}

// CreateOrReplace builds a player for req and registers it, destroying any
// handle already registered under the same id. Concurrent calls for one id
// share a single construction and all receive its result.
func (c *Controller) CreateOrReplace(ctx context.Context, req Request) (*Handle, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Container == nil {
		req.Container = widget.ElementID(req.ID)
	}
	opts := req.Options
	if req.Channel != "" {
		opts.Channel = req.Channel
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("%w: channel is required", ErrInvalidRequest)
	}
	if len(opts.Parents) == 0 {
		opts.Parents = append([]string(nil), c.opts.Parents...)
	}

	// Collapse concurrent requests for one id, then queue behind other
	// operations on it
	v, err, shared := c.flights.Do(req.ID, func() (interface{}, error) {
		release, err := c.gate.Acquire(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		defer release()

		if !c.sleep(ctx, c.opts.Throttle) {
			return nil, ctx.Err()
		}
		if c.closed.Load() {
			return nil, ErrClosed
		}
		return c.createLocked(ctx, req.ID, req.Container, opts)
	})
	if shared {
		c.log.Debugf("player %s: joined in-flight construction", req.ID)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// createLocked runs with the gate for id held.
func (c *Controller) createLocked(ctx context.Context, id string, container widget.Container, opts widget.PlayerOptions) (*Handle, error) {
	// Drop any pending recreation and the previous handle
	c.scheduler.Cancel(id)
	if prev := c.registry.Remove(id); prev != nil {
		c.log.Infof("player %s: replacing handle on channel %s", id, prev.Channel())
		c.teardown(prev, types.EventTypeHandleDestroyed)
	}

	// Check handle limit
	if c.opts.MaxHandles > 0 && c.registry.Count() >= c.opts.MaxHandles {
		return nil, ErrCapacity
	}

	// Construct with retries
	player, err := c.builder.Build(ctx, id, container, opts)
	if err != nil {
		c.log.Errorf("player %s: %v", id, err)
		c.publish(types.NewErrorEvent(types.EventTypeConstructionFailed, id, opts.Channel, "", err))
		return nil, err
	}

	// Register, unless Close ran while we were building
	h := newHandle(c.ctx, id, container, opts, player, c.clock.Now())
	c.registry.Insert(h)
	if c.closed.Load() {
		if c.registry.RemoveIf(id, func(cur *Handle) bool { return cur == h }) != nil {
			c.teardown(h, types.EventTypeHandleDestroyed)
		}
		return nil, ErrClosed
	}
	// Subscribe recovery hooks
	c.attach(h, player)

	c.log.Infof("player %s: created on channel %s", id, opts.Channel)
	c.publish(types.NewEvent(types.EventTypeHandleCreated, id, opts.Channel, h.State().String()))
	return h, nil
}

// Destroy removes the handle registered under id and tears it down. Any
// pending recreation for id is cancelled. It reports whether a handle was
// registered.
func (c *Controller) Destroy(id string) bool {
	c.scheduler.Cancel(id)

	release, err := c.gate.Acquire(context.Background(), id)
	if err != nil {
		return false
	}
	defer release()

	// a recovery may have escalated while we waited
	c.scheduler.Cancel(id)

	h := c.registry.Remove(id)
	if h == nil {
		return false
	}
	c.teardown(h, types.EventTypeHandleDestroyed)
	c.log.Infof("player %s: destroyed", id)
	return true
}

// Touch records a heartbeat for id. It is a no-op for unknown ids.
func (c *Controller) Touch(id string) bool {
	return c.registry.Touch(id, c.clock.Now())
}

// Count returns the number of registered handles.
func (c *Controller) Count() int {
	return c.registry.Count()
}

// State returns the recovery state of the handle under id.
func (c *Controller) State(id string) (State, bool) {
	h, ok := c.registry.Get(id)
	if !ok {
		return 0, false
	}
	return h.State(), true
}

// Lookup returns a snapshot of the handle under id.
func (c *Controller) Lookup(id string) (HandleInfo, error) {
	h, ok := c.registry.Get(id)
	if !ok {
		return HandleInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return h.Info(), nil
}

// Handles returns a snapshot of every registered handle ordered by id.
func (c *Controller) Handles() []HandleInfo {
	handles := c.registry.Snapshot()
	infos := make([]HandleInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	return infos
}

// ScriptLoaded reports whether the widget runtime has been loaded.
func (c *Controller) ScriptLoaded() bool {
	return c.builder.ScriptLoaded()
}

// Close stops the reaper, cancels every scheduled task and destroys every
// handle. Later calls return ErrClosed.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	// Stop background work first so nothing re-registers
	c.cancel()
	if c.reaper != nil {
		c.reaper.Stop()
	}
	c.scheduler.Stop()

	// Destroy every remaining handle
	handles := c.registry.Drain()
	for _, h := range handles {
		c.teardown(h, types.EventTypeHandleDestroyed)
	}
	c.log.Infof("controller closed, destroyed %d handle(s)", len(handles))
	return nil
}

// sweep reaps stable handles idle for longer than the threshold. Handles
// whose id is held by another operation are skipped.
func (c *Controller) sweep(now time.Time) {
	reaped := 0
	for _, h := range c.registry.Snapshot() {
		release, ok := c.gate.TryAcquire(h.id)
		if !ok {
			continue
		}
		removed := c.registry.RemoveIf(h.id, func(cur *Handle) bool {
			return cur == h && h.State() == StateStable && now.Sub(h.LastUsed()) > c.opts.IdleThreshold
		})
		if removed != nil {
			c.scheduler.Cancel(h.id)
			c.teardown(removed, types.EventTypeHandleReaped)
			reaped++
		}
		release()
	}
	if reaped > 0 {
		c.log.Infof("reaper: reaped %d idle handle(s), %d remaining", reaped, c.registry.Count())
	}
}

// teardown releases every native resource of a handle that has already
// left the registry. Failures are logged and emitted, never returned.
func (c *Controller) teardown(h *Handle, reason types.EventType) {
	player, subs := h.release()
	c.destroyNative(h, player, subs)
	c.publish(types.NewEvent(reason, h.id, h.Channel(), h.State().String()))
}

func (c *Controller) destroyNative(h *Handle, player widget.Player, subs []func()) {
	for _, cancel := range subs {
		cancel()
	}
	if player == nil {
		return
	}
	if err := player.Destroy(); err != nil {
		terr := &TeardownError{ID: h.id, Err: err}
		c.log.Warnf("%v", terr)
		c.publish(types.NewErrorEvent(types.EventTypeTeardownFailed, h.id, h.Channel(), h.State().String(), terr))
	}
}

func (c *Controller) publish(ev *types.Event) {
	if c.emit == nil {
		return
	}
	ev.Time = c.clock.Now()
	c.emit(ev)
}

// sleep waits for d on the controller clock. It reports false when ctx
// ends first.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-c.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
