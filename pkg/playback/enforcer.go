package playback

import (
	"time"

	"github.com/entrhq/playback/pkg/types"
	"github.com/entrhq/playback/pkg/widget"
)

// qualityEnforcer keeps a player pinned to its lowest fixed quality. It
// runs until the handle is torn down or the change budget is spent.
type qualityEnforcer struct {
	c       *Controller
	h       *Handle
	policy  QualityPolicy
	trigger chan struct{}
	changes int
}

func newQualityEnforcer(c *Controller, h *Handle) *qualityEnforcer {
	return &qualityEnforcer{
		c:       c,
		h:       h,
		policy:  c.opts.Quality,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests an enforcement pass without blocking.
func (e *qualityEnforcer) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *qualityEnforcer) run() {
	for _, d := range e.policy.InitialDelays {
		go func(d time.Duration) {
			if e.c.sleep(e.h.ctx, d) {
				e.Trigger()
			}
		}(d)
	}

	var poll <-chan time.Time
	if e.policy.PollInterval > 0 {
		ticker := e.c.clock.NewTicker(e.policy.PollInterval)
		defer ticker.Stop()
		poll = ticker.Chan()
	}

	for {
		select {
		case <-e.h.ctx.Done():
			return
		case <-e.trigger:
		case <-poll:
		}
		if e.enforce() {
			return
		}
	}
}

// enforce runs one pass. It reports true once the change budget is spent.
func (e *qualityEnforcer) enforce() bool {
	if e.policy.MaxAttempts > 0 && e.changes >= e.policy.MaxAttempts {
		return true
	}
	if e.h.State() != StateStable {
		return false
	}
	player := e.h.nativePlayer()
	if player == nil {
		return false
	}

	qualities, err := player.Qualities()
	if err != nil {
		e.c.log.Debugf("player %s: qualities not ready: %v", e.h.id, err)
		return false
	}
	target := widget.Lowest(qualities, e.policy.Preferred)
	if target == "" {
		return false
	}
	current, err := player.Quality()
	if err == nil && current == target {
		return false
	}
	if err := player.SetQuality(target); err != nil {
		e.c.log.Warnf("player %s: enforce quality %s: %v", e.h.id, target, err)
		return false
	}

	e.changes++
	e.c.log.Infof("player %s: quality %s -> %s (%d/%d)", e.h.id, current, target, e.changes, e.policy.MaxAttempts)
	e.c.publish(types.NewEvent(types.EventTypeQualityEnforced, e.h.id, e.h.Channel(), StateStable.String()).
		WithMetadata("quality", target))

	return e.policy.MaxAttempts > 0 && e.changes >= e.policy.MaxAttempts
}
