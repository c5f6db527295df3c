// Package playback owns the lifecycle of embedded player handles.
//
// A Controller is the single owner of every live native player in a
// process. It admits requests per resource id, constructs players with a
// bounded retry policy, watches them for recoverable stream errors and
// reclaims the ones nobody is using.
//
// Architecture:
//
//	CreateOrReplace(id)
//	        │
//	        ▼
//	┌──────────────────┐   single-flight per id, FIFO gate per id
//	│  Gate            │
//	└────────┬─────────┘
//	         ▼
//	┌──────────────────┐   script load once, linear backoff,
//	│  Builder         │   quality degraded to auto on stream errors
//	└────────┬─────────┘
//	         ▼
//	┌──────────────────┐   Stable ─► Recovering ─► Stable
//	│  Registry        │                  └──────► PendingRecreate ─► (new handle)
//	└────────┬─────────┘
//	         ▼
//	┌──────────────────┐
//	│  Reaper          │   destroys stable handles idle past the threshold
//	└──────────────────┘
//
// Example usage:
//
//	c, err := playback.New(playback.DefaultOptions(), endpoint, logger, nil)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	h, err := c.CreateOrReplace(ctx, playback.Request{ID: "p1", Channel: "alpha"})
//	if errors.Is(err, playback.ErrConstructionFailed) {
//	    // the widget could not be built within the retry budget
//	}
//	c.Touch(h.ID())
//
// Failures after construction are never returned to callers. They are
// logged and reported through the optional types.EventEmitter.
package playback
