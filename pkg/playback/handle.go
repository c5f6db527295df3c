package playback

import (
	"context"
	"sync"
	"time"

	"github.com/entrhq/playback/pkg/widget"
)

// State is the recovery state of a handle.
type State int

const (
	// StateStable means the native player is live and healthy.
	StateStable State = iota
	// StateRecovering means a recovery sequence is running on the native player.
	StateRecovering
	// StatePendingRecreate means the native player was torn down and a full
	// recreation is scheduled.
	StatePendingRecreate
)

func (s State) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateRecovering:
		return "recovering"
	case StatePendingRecreate:
		return "pending_recreate"
	default:
		return "unknown"
	}
}

// Handle is a registry entry for one resource id. The native player it wraps
// never leaves the playback package.
//
// The player is non-nil exactly while the state is Stable or Recovering.
type Handle struct {
	id        string
	container widget.Container
	options   widget.PlayerOptions
	createdAt time.Time

	// ctx is cancelled when the handle is torn down; every callback and
	// scheduled step bound to the handle checks it before acting.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	player   widget.Player
	state    State
	lastUsed time.Time
	subs     []func()
}

// HandleInfo is a point-in-time copy of a handle's public fields.
type HandleInfo struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Quality   string    `json:"quality,omitempty"`
	State     string    `json:"state"`
	LastUsed  time.Time `json:"last_used"`
	CreatedAt time.Time `json:"created_at"`
}

func newHandle(parent context.Context, id string, container widget.Container, opts widget.PlayerOptions, player widget.Player, now time.Time) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		id:        id,
		container: container,
		options:   opts,
		createdAt: now,
		ctx:       ctx,
		cancel:    cancel,
		player:    player,
		state:     StateStable,
		lastUsed:  now,
	}
}

// ID returns the resource id.
func (h *Handle) ID() string {
	return h.id
}

// Channel returns the channel the handle was created for.
func (h *Handle) Channel() string {
	return h.options.Channel
}

// Container returns the caller-owned mount point.
func (h *Handle) Container() widget.Container {
	return h.container
}

// Options returns the options the handle was requested with.
func (h *Handle) Options() widget.PlayerOptions {
	return h.options
}

// State returns the current recovery state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LastUsed returns the time of the last heartbeat or construction.
func (h *Handle) LastUsed() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

// Alive reports whether the handle has not been torn down.
func (h *Handle) Alive() bool {
	return h.ctx.Err() == nil
}

// Info returns a snapshot of the handle.
func (h *Handle) Info() HandleInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HandleInfo{
		ID:        h.id,
		Channel:   h.options.Channel,
		Quality:   h.options.Quality,
		State:     h.state.String(),
		LastUsed:  h.lastUsed,
		CreatedAt: h.createdAt,
	}
}

func (h *Handle) touch(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastUsed = now
}

func (h *Handle) addSubscription(cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, cancel)
}

// nativePlayer returns the live player, or nil once it has been released.
func (h *Handle) nativePlayer() widget.Player {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.player
}

// beginRecovery moves Stable to Recovering. It fails when a sequence is
// already running, a recreation is pending or the handle is gone.
func (h *Handle) beginRecovery() (widget.Player, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateStable || h.player == nil || h.ctx.Err() != nil {
		return nil, false
	}
	h.state = StateRecovering
	return h.player, true
}

// finishRecovery moves Recovering back to Stable.
func (h *Handle) finishRecovery() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateRecovering {
		return false
	}
	h.state = StateStable
	return true
}

// markPendingRecreate moves Recovering to PendingRecreate and hands back the
// native player and subscriptions for teardown. It refuses once the handle
// has been torn down.
func (h *Handle) markPendingRecreate() (widget.Player, []func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateRecovering || h.ctx.Err() != nil {
		return nil, nil, false
	}
	h.state = StatePendingRecreate
	player, subs := h.player, h.subs
	h.player, h.subs = nil, nil
	return player, subs, true
}

// release cancels the handle context and hands back whatever native
// resources it still owns.
func (h *Handle) release() (widget.Player, []func()) {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	player, subs := h.player, h.subs
	h.player, h.subs = nil, nil
	return player, subs
}
