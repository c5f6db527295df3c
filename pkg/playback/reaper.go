package playback

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Reaper calls sweep on a fixed period until stopped.
type Reaper struct {
	clock    clockwork.Clock
	interval time.Duration
	sweep    func(now time.Time)

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewReaper creates a stopped reaper.
func NewReaper(clock clockwork.Clock, interval time.Duration, sweep func(now time.Time)) *Reaper {
	return &Reaper{
		clock:    clock,
		interval: interval,
		sweep:    sweep,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling Start more than once is a no-op.
func (r *Reaper) Start() {
	r.startOnce.Do(func() {
		go r.loop()
	})
}

func (r *Reaper) loop() {
	defer close(r.done)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.Chan():
			// a stop racing a tick wins
			select {
			case <-r.stop:
				return
			default:
			}
			r.sweep(r.clock.Now())
		}
	}
}

// Stop cancels the pending tick and waits for an in-progress sweep.
// No sweep runs after Stop returns.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	// never started: nothing to wait for
	r.startOnce.Do(func() {
		close(r.done)
	})
	<-r.done
}
