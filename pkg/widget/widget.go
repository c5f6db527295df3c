package widget

import (
	"context"
	"fmt"
)

// EventType identifies a lifecycle event emitted by a native player.
type EventType string

const (
	EventReady         EventType = "ready"          // EventReady fires once the player can accept commands.
	EventError         EventType = "error"          // EventError carries a playback error reported by the widget.
	EventInternalError EventType = "internal-error" // EventInternalError carries an error raised inside the widget runtime.
	EventOnline        EventType = "online"         // EventOnline fires when the transport comes back online.
	EventOffline       EventType = "offline"        // EventOffline fires when the transport goes offline.
)

// Event is a single notification from a native player.
type Event struct {
	Type EventType

	// Message is the human readable payload of error events.
	Message string

	// Code is the vendor error code, 0 when the widget did not supply one.
	Code int
}

// Container is the caller-owned mount point a player is attached to.
// Endpoints only attach and detach players; they never allocate or free it.
type Container interface {
	// Name identifies the mount point (for example a DOM element id).
	Name() string
}

// ElementID is a Container addressed by its element id.
type ElementID string

// Name returns the element id.
func (e ElementID) Name() string {
	return string(e)
}

// PlayerOptions configures construction of a native player.
type PlayerOptions struct {
	// Channel is the logical stream name.
	Channel string `json:"channel" yaml:"channel"`

	// Quality is the requested quality identifier; empty lets the widget choose.
	Quality string `json:"quality,omitempty" yaml:"quality"`

	Autoplay bool `json:"autoplay" yaml:"autoplay"`
	Muted    bool `json:"muted" yaml:"muted"`

	// Parents is the allowed-embed-origins list, passed to the widget unchanged.
	Parents []string `json:"parents,omitempty" yaml:"parents"`

	// EnforceLowestQuality keeps the player pinned to the lowest offered quality.
	EnforceLowestQuality bool `json:"enforce_lowest_quality,omitempty" yaml:"enforce_lowest_quality"`
}

// Player is a native player handle created by an Endpoint.
//
// Methods may fail at any time; callers treat every error as advisory.
type Player interface {
	Pause() error
	SetChannel(name string) error
	Qualities() ([]string, error)
	Quality() (string, error)
	SetQuality(id string) error
	Destroy() error

	// Subscribe registers fn for every event of type t and returns a function
	// that cancels the subscription. fn may be called from any goroutine.
	Subscribe(t EventType, fn func(Event)) (cancel func())
}

// Endpoint is the external widget runtime.
type Endpoint interface {
	// LoadScript loads the widget runtime. Callers guarantee it is invoked
	// at most once successfully per process.
	LoadScript(ctx context.Context) error

	// NewPlayer constructs a player bound to container.
	NewPlayer(ctx context.Context, container Container, opts PlayerOptions) (Player, error)
}

// StreamError is an error reported by the widget, carrying the vendor code.
type StreamError struct {
	Message string
	Code    int
}

func (e *StreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("widget error %d: %s", e.Code, e.Message)
	}
	return "widget error: " + e.Message
}

// ErrorFromEvent converts an error event into a StreamError.
func ErrorFromEvent(ev Event) *StreamError {
	return &StreamError{Message: ev.Message, Code: ev.Code}
}
