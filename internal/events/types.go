// Package events carries notifications from the transport, the stream tracker
// and the process orchestrators to whoever renders them.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Transport events
	EventConnected     EventType = "transport.connected"
	EventDisconnected  EventType = "transport.disconnected"
	EventConnectFailed EventType = "transport.connect_failed"

	// Stream state events
	EventStreamsUpdated EventType = "streams.updated"
	EventNewlyOnline    EventType = "streams.newly_online"

	// Probe events
	EventProbeStarted  EventType = "probe.started"
	EventProbeFinished EventType = "probe.finished"

	// Playback events
	EventPlaybackOutputLine EventType = "playback.output_line"
	EventPlaybackExited     EventType = "playback.exited"

	// Settings events
	EventSettingsChanged EventType = "settings.changed"
)

// EventPriority represents the priority level of an event
type EventPriority int

const (
	PriorityLow    EventPriority = 1
	PriorityNormal EventPriority = 5
	PriorityHigh   EventPriority = 10
)

// Event represents a notification published on the bus
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // transport, tracker, probe, playback, settings
	Title     string                 `json:"title,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Priority  EventPriority          `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler handles a delivered event. Handlers run on the bus dispatcher
// and must not block.
type EventHandler func(event Event) error

// EventFilter selects events for a subscription. Empty fields match anything.
type EventFilter struct {
	Types   []EventType `json:"types,omitempty"`
	Sources []string    `json:"sources,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Subscriber    string       `json:"subscriber"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// BusConfig configures the event bus
type BusConfig struct {
	BufferSize   int `json:"buffer_size"`
	RecentEvents int `json:"recent_events"`
}

// DefaultBusConfig returns default configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{
		BufferSize:   1024,
		RecentEvents: 100,
	}
}

// MatchesFilter checks if an event matches the given filter
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Sources) > 0 {
		found := false
		for _, s := range filter.Sources {
			if event.Source == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
