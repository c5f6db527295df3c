package playback

import (
	"fmt"

	"github.com/entrhq/playback/pkg/types"
	"github.com/entrhq/playback/pkg/widget"
)

// attach subscribes the controller to a freshly constructed player. The
// subscriptions are owned by h and cancelled when it is torn down.
func (c *Controller) attach(h *Handle, player widget.Player) {
	onError := func(ev widget.Event) {
		c.handlePlayerError(h, ev)
	}
	h.addSubscription(player.Subscribe(widget.EventError, onError))
	h.addSubscription(player.Subscribe(widget.EventInternalError, onError))
	h.addSubscription(player.Subscribe(widget.EventOnline, func(widget.Event) {
		c.handleOnline(h)
	}))
	h.addSubscription(player.Subscribe(widget.EventOffline, func(widget.Event) {
		c.log.Infof("player %s: transport offline", h.id)
	}))

	if h.options.EnforceLowestQuality {
		enf := newQualityEnforcer(c, h)
		h.addSubscription(player.Subscribe(widget.EventReady, func(widget.Event) {
			enf.Trigger()
		}))
		go enf.run()
	}
}

// handlePlayerError starts a recovery sequence for recoverable errors.
// Unclassified errors and errors arriving mid-sequence are ignored.
func (c *Controller) handlePlayerError(h *Handle, ev widget.Event) {
	if !h.Alive() {
		return
	}
	if !IsRecoverable(ev) {
		c.log.Debugf("player %s: ignoring %s event (code %d): %s", h.id, ev.Type, ev.Code, ev.Message)
		return
	}
	player, ok := h.beginRecovery()
	if !ok {
		c.log.Debugf("player %s: %s event while %s, ignored", h.id, ev.Type, h.State())
		return
	}

	cause := widget.ErrorFromEvent(ev)
	c.log.Warnf("player %s: recoverable error, starting recovery: %v", h.id, cause)
	c.publish(types.NewErrorEvent(types.EventTypeRecoveryStarted, h.id, h.Channel(), StateRecovering.String(), cause))

	go c.runRecovery(h, player)
}

// runRecovery executes pause, settle, reload and quality reassertion in
// order on the same native player.
func (c *Controller) runRecovery(h *Handle, player widget.Player) {
	// Pause and let the player settle
	if err := player.Pause(); err != nil {
		c.escalate(h, fmt.Errorf("pause: %w", err))
		return
	}
	if !c.sleep(h.ctx, c.opts.Recovery.SettleDelay) {
		return
	}

	// Reload the channel on the same native player
	if err := player.SetChannel(h.Channel()); err != nil {
		c.escalate(h, fmt.Errorf("reload channel %s: %w", h.Channel(), err))
		return
	}
	c.log.Infof("player %s: reloaded channel %s", h.id, h.Channel())
	if !c.sleep(h.ctx, c.opts.Recovery.QualityDelay) {
		return
	}

	// Restore quality, then back to stable
	c.reassertQuality(h, player)

	if h.finishRecovery() {
		c.log.Infof("player %s: recovered", h.id)
		c.publish(types.NewEvent(types.EventTypeRecoveryCompleted, h.id, h.Channel(), StateStable.String()))
	}
}

func (c *Controller) reassertQuality(h *Handle, player widget.Player) {
	qualities, err := player.Qualities()
	if err != nil {
		c.log.Warnf("player %s: qualities unavailable after reload: %v", h.id, err)
		return
	}
	target := widget.Reassert(qualities, h.options.Quality)
	if target == "" {
		return
	}
	if current, err := player.Quality(); err == nil && current == target {
		return
	}
	if err := player.SetQuality(target); err != nil {
		c.log.Warnf("player %s: set quality %s: %v", h.id, target, err)
		return
	}
	c.log.Debugf("player %s: quality reasserted to %s", h.id, target)
}

// escalate abandons the native player and schedules a full recreation under
// the same id.
func (c *Controller) escalate(h *Handle, cause error) {
	// recreation is keyed by id, so a replaced handle must not schedule one
	if !h.Alive() || !c.registry.IsCurrent(h) {
		c.log.Debugf("player %s: stale recovery abandoned: %v", h.id, cause)
		return
	}
	player, subs, ok := h.markPendingRecreate()
	if !ok {
		return
	}
	err := fmt.Errorf("%w: %w", ErrRecoveryExhausted, cause)
	c.log.Warnf("player %s: %v", h.id, err)
	c.publish(types.NewErrorEvent(types.EventTypeRecoveryExhausted, h.id, h.Channel(), StatePendingRecreate.String(), err))

	// Release the native player, then schedule the rebuild
	c.destroyNative(h, player, subs)

	c.scheduler.Schedule(h.id, c.opts.Recovery.RecreateDelay, func() {
		c.recreate(h)
	})
	c.publish(types.NewEvent(types.EventTypeRecreateScheduled, h.id, h.Channel(), StatePendingRecreate.String()).
		WithMetadata("delay", c.opts.Recovery.RecreateDelay.String()))
}

// recreate replaces h with a new handle built from the same container and
// options. It does nothing when h is no longer the registered handle.
func (c *Controller) recreate(h *Handle) {
	release, err := c.gate.Acquire(c.ctx, h.id)
	if err != nil {
		return
	}
	defer release()

	if !c.registry.IsCurrent(h) || h.State() != StatePendingRecreate {
		c.log.Debugf("player %s: stale recreation skipped", h.id)
		return
	}
	if _, err := c.createLocked(c.ctx, h.id, h.container, h.options); err != nil {
		c.log.Errorf("player %s: recreation failed: %v", h.id, err)
	}
}

// handleOnline reissues the channel once the transport is back.
func (c *Controller) handleOnline(h *Handle) {
	if !h.Alive() {
		return
	}
	go func() {
		if !c.sleep(h.ctx, c.opts.Recovery.OnlineDelay) {
			return
		}
		player := h.nativePlayer()
		if player == nil {
			return
		}
		if err := player.SetChannel(h.Channel()); err != nil {
			c.log.Warnf("player %s: reconnect channel %s: %v", h.id, h.Channel(), err)
			return
		}
		c.log.Infof("player %s: reconnected to %s", h.id, h.Channel())
		c.publish(types.NewEvent(types.EventTypeReconnected, h.id, h.Channel(), h.State().String()))
	}()
}
