package types

import "time"

// EventType defines the type of lifecycle event emitted by the controller.
type EventType string

const (
	EventTypeHandleCreated      EventType = "handle_created"      // EventTypeHandleCreated indicates a handle was constructed and registered.
	EventTypeHandleDestroyed    EventType = "handle_destroyed"    // EventTypeHandleDestroyed indicates a handle was explicitly destroyed or replaced.
	EventTypeHandleReaped       EventType = "handle_reaped"       // EventTypeHandleReaped indicates the idle reaper destroyed a handle.
	EventTypeConstructionFailed EventType = "construction_failed" // EventTypeConstructionFailed indicates construction exhausted its attempts.
	EventTypeRecoveryStarted    EventType = "recovery_started"    // EventTypeRecoveryStarted indicates a recoverable stream error started a recovery sequence.
	EventTypeRecoveryCompleted  EventType = "recovery_completed"  // EventTypeRecoveryCompleted indicates the recovery sequence returned the handle to stable.
	EventTypeRecoveryExhausted  EventType = "recovery_exhausted"  // EventTypeRecoveryExhausted indicates the reload step failed and recreation was scheduled.
	EventTypeRecreateScheduled  EventType = "recreate_scheduled"  // EventTypeRecreateScheduled indicates a full recreation is pending.
	EventTypeTeardownFailed     EventType = "teardown_failed"     // EventTypeTeardownFailed indicates the native destroy call failed.
	EventTypeQualityEnforced    EventType = "quality_enforced"    // EventTypeQualityEnforced indicates the quality was changed to keep it pinned low.
	EventTypeReconnected        EventType = "reconnected"         // EventTypeReconnected indicates the channel was reissued after the transport came back online.
)

// Event represents a lifecycle event emitted by the controller.
type Event struct {
	// Time is when the event was emitted.
	Time time.Time

	// Error contains error information for failure events.
	Error error

	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Type indicates the kind of event.
	Type EventType

	// HandleID is the resource id the event refers to.
	HandleID string

	// Channel is the channel bound to the handle when the event fired.
	Channel string

	// State is the handle's recovery state after the event.
	State string
}

// EventEmitter receives lifecycle events. Implementations must not block.
type EventEmitter func(event *Event)

// NewEvent creates an event of the given type for a handle.
func NewEvent(t EventType, handleID, channel, state string) *Event {
	return &Event{
		Time:     time.Now(),
		Type:     t,
		HandleID: handleID,
		Channel:  channel,
		State:    state,
		Metadata: make(map[string]interface{}),
	}
}

// NewErrorEvent creates a failure event carrying err.
func NewErrorEvent(t EventType, handleID, channel, state string, err error) *Event {
	ev := NewEvent(t, handleID, channel, state)
	ev.Error = err
	return ev
}

// WithMetadata sets a metadata key and returns the event for chaining.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsFailure reports whether the event describes a failure.
func (e *Event) IsFailure() bool {
	switch e.Type {
	case EventTypeConstructionFailed, EventTypeRecoveryExhausted, EventTypeTeardownFailed:
		return true
	default:
		return false
	}
}
