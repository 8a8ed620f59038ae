package gateway

import (
	"time"

	"noshowd/pkg/types"
)

// Event names published by the gateway.
const (
	EventReloadStart     = "reload_start"
	EventReloadDone      = "reload_done"
	EventReloadSkipped   = "reload_skipped"
	EventReloadFailed    = "reload_failed"
	EventReloadRejected  = "reload_rejected"
	EventHandleInstalled = "handle_installed"
	EventHandleRetired   = "handle_retired"
)

// Event represents a gateway lifecycle event.
// Minimal and stable: name + model and optional fields via key/values.
type Event struct {
	Name         string
	ModelName    string
	ModelVersion string
	Time         time.Time
	Fields       map[string]any
}

// Wire converts e to its JSON form.
func (e Event) Wire() types.Event {
	return types.Event{
		Name:         e.Name,
		ModelName:    e.ModelName,
		ModelVersion: e.ModelVersion,
		TimeUnixMS:   e.Time.UnixMilli(),
		Fields:       e.Fields,
	}
}

// EventPublisher receives events from the gateway. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// FanOut publishes every event to each of its publishers in order.
type FanOut []EventPublisher

func (f FanOut) Publish(e Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(e)
		}
	}
}
