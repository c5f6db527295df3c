package playback

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/entrhq/playback/pkg/logging"
	"github.com/entrhq/playback/pkg/widget"
)

// Builder constructs native players with a bounded, linear retry policy.
// The widget runtime script is loaded at most once per Builder; concurrent
// callers share the in-flight load.
type Builder struct {
	endpoint widget.Endpoint
	policy   RetryPolicy
	clock    clockwork.Clock
	log      *logging.Logger

	loads  singleflight.Group
	loaded atomic.Bool
}

// NewBuilder creates a builder for endpoint.
func NewBuilder(endpoint widget.Endpoint, policy RetryPolicy, clock clockwork.Clock, log *logging.Logger) *Builder {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Builder{
		endpoint: endpoint,
		policy:   policy,
		clock:    clock,
		log:      log,
	}
}

// ScriptLoaded reports whether the widget runtime is loaded.
func (b *Builder) ScriptLoaded() bool {
	return b.loaded.Load()
}

// backoff returns the wait before the attempt following attempt n.
func backoff(base time.Duration, n int) time.Duration {
	return base * time.Duration(n)
}

func (b *Builder) ensureScript(ctx context.Context) error {
	if b.loaded.Load() {
		return nil
	}
	_, err, _ := b.loads.Do("script", func() (interface{}, error) {
		if b.loaded.Load() {
			return nil, nil
		}
		if err := b.endpoint.LoadScript(ctx); err != nil {
			return nil, fmt.Errorf("failed to load widget script: %w", err)
		}
		b.loaded.Store(true)
		b.log.Infof("widget script loaded")
		return nil, nil
	})
	return err
}

func (b *Builder) attempt(ctx context.Context, container widget.Container, opts widget.PlayerOptions) (widget.Player, error) {
	// Bound the whole attempt, script load included
	if b.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.policy.AttemptTimeout)
		defer cancel()
	}

	if err := b.ensureScript(ctx); err != nil {
		return nil, err
	}
	player, err := b.endpoint.NewPlayer(ctx, container, opts)
	if err != nil {
		return nil, err
	}
	return player, nil
}

// Build constructs a player for id. Stream-format failures degrade the
// requested quality to automatic before the next attempt; other failures
// retry unchanged. After the last attempt the returned *ConstructionError
// wraps that attempt's error.
func (b *Builder) Build(ctx context.Context, id string, container widget.Container, opts widget.PlayerOptions) (widget.Player, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		player, err := b.attempt(ctx, container, opts)
		if err == nil {
			if attempt > 1 {
				b.log.Infof("player %s constructed on attempt %d (quality %q)", id, attempt, opts.Quality)
			}
			return player, nil
		}
		// Classify before deciding how to retry
		lastErr = err
		kind := Classify(err)
		b.log.Warnf("player %s construction attempt %d/%d failed (%s): %v", id, attempt, b.policy.MaxAttempts, kind, err)

		// Give up with the last error once the budget is spent
		if attempt >= b.policy.MaxAttempts || ctx.Err() != nil {
			return nil, &ConstructionError{ID: id, Attempts: attempt, Kind: Classify(lastErr), Err: lastErr}
		}

		// Stream-format failures retry with automatic quality
		if kind == KindStreamFormat && opts.Quality != widget.QualityAuto {
			b.log.Infof("player %s degrading quality %q -> %q", id, opts.Quality, widget.QualityAuto)
			opts.Quality = widget.QualityAuto
		}

		// Linear backoff
		select {
		case <-b.clock.After(backoff(b.policy.BaseDelay, attempt)):
		case <-ctx.Done():
			return nil, &ConstructionError{ID: id, Attempts: attempt, Kind: Classify(lastErr), Err: lastErr}
		}
	}
}
