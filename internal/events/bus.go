package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Bus is an in-process publish/subscribe bus. Events are dispatched by a
// single goroutine, so every subscriber sees them in publish order.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(event Event) error
	Subscribe(filter EventFilter, subscriber string, handler EventHandler) (*Subscription, error)
	Unsubscribe(subscriptionID string) error
	Recent(filter EventFilter, limit int) []Event
	Stats() EventStats
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type eventBus struct {
	config BusConfig
	logger hclog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	order         []string // subscription IDs in subscribe order
	eventChannel  chan Event
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup

	recentEvents []Event
	stats        EventStats
}

// NewBus creates a new event bus instance
func NewBus(config BusConfig, logger hclog.Logger) Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig().BufferSize
	}
	if config.RecentEvents <= 0 {
		config.RecentEvents = DefaultBusConfig().RecentEvents
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &eventBus{
		config:        config,
		logger:        logger.Named("events"),
		subscriptions: make(map[string]*Subscription),
		eventChannel:  make(chan Event, config.BufferSize),
		recentEvents:  make([]Event, 0, config.RecentEvents),
		stats:         EventStats{EventsByType: make(map[string]int64)},
	}
}

// Start starts the dispatcher
func (eb *eventBus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.running {
		return fmt.Errorf("event bus is already running")
	}

	eb.running = true
	eb.stopCh = make(chan struct{})

	eb.wg.Add(1)
	go eb.processEvents(ctx, eb.stopCh)

	eb.logger.Debug("event bus started", "buffer_size", eb.config.BufferSize)
	return nil
}

// Stop drains queued events and stops the dispatcher
func (eb *eventBus) Stop(ctx context.Context) error {
	eb.mu.Lock()
	if !eb.running {
		eb.mu.Unlock()
		return nil
	}
	eb.running = false
	close(eb.stopCh)
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Debug("event bus stopped")
		return nil
	case <-ctx.Done():
		eb.logger.Warn("event bus stop timed out")
		return ctx.Err()
	}
}

func (eb *eventBus) prepare(event Event) (Event, error) {
	if event.Type == "" {
		return event, fmt.Errorf("invalid event: type is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Priority == 0 {
		event.Priority = PriorityNormal
	}
	return event, nil
}

// Publish queues an event, waiting for buffer space if necessary
func (eb *eventBus) Publish(ctx context.Context, event Event) error {
	event, err := eb.prepare(event)
	if err != nil {
		return err
	}

	eb.mu.RLock()
	running, stopCh := eb.running, eb.stopCh
	eb.mu.RUnlock()
	if !running {
		return fmt.Errorf("event bus is not running")
	}

	select {
	case eb.eventChannel <- event:
		return nil
	case <-stopCh:
		return fmt.Errorf("event bus is not running")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAsync queues an event without waiting; it is dropped if the buffer is full
func (eb *eventBus) PublishAsync(event Event) error {
	event, err := eb.prepare(event)
	if err != nil {
		return err
	}

	eb.mu.RLock()
	running := eb.running
	eb.mu.RUnlock()
	if !running {
		return fmt.Errorf("event bus is not running")
	}

	select {
	case eb.eventChannel <- event:
		return nil
	default:
		eb.logger.Warn("event channel full, dropping event", "event_type", event.Type, "event_id", event.ID)
		return fmt.Errorf("event channel full")
	}
}

// Subscribe registers handler for events matching filter
func (eb *eventBus) Subscribe(filter EventFilter, subscriber string, handler EventHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub := &Subscription{
		ID:         uuid.NewString(),
		Filter:     filter,
		Handler:    handler,
		Subscriber: subscriber,
		Created:    time.Now(),
	}
	eb.subscriptions[sub.ID] = sub
	eb.order = append(eb.order, sub.ID)

	eb.logger.Debug("new subscription", "subscription_id", sub.ID, "subscriber", subscriber, "types", filter.Types)
	return sub, nil
}

// Unsubscribe removes a subscription
func (eb *eventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, exists := eb.subscriptions[subscriptionID]; !exists {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	delete(eb.subscriptions, subscriptionID)
	for i, id := range eb.order {
		if id == subscriptionID {
			eb.order = append(eb.order[:i], eb.order[i+1:]...)
			break
		}
	}
	return nil
}

// Recent returns up to limit of the most recent events matching filter, oldest first
func (eb *eventBus) Recent(filter EventFilter, limit int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var matched []Event
	for _, e := range eb.recentEvents {
		if MatchesFilter(e, filter) {
			matched = append(matched, e)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// Stats returns event bus statistics
func (eb *eventBus) Stats() EventStats {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	stats := EventStats{
		TotalEvents:         eb.stats.TotalEvents,
		EventsByType:        make(map[string]int64, len(eb.stats.EventsByType)),
		ActiveSubscriptions: len(eb.subscriptions),
	}
	for k, v := range eb.stats.EventsByType {
		stats.EventsByType[k] = v
	}
	return stats
}

func (eb *eventBus) processEvents(ctx context.Context, stopCh chan struct{}) {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.eventChannel:
			eb.handleEvent(event)
		case <-stopCh:
			eb.drain()
			return
		case <-ctx.Done():
			eb.logger.Debug("event processor stopping due to context cancellation")
			return
		}
	}
}

func (eb *eventBus) drain() {
	for {
		select {
		case event := <-eb.eventChannel:
			eb.handleEvent(event)
		default:
			return
		}
	}
}

func (eb *eventBus) handleEvent(event Event) {
	eb.mu.Lock()
	eb.recentEvents = append(eb.recentEvents, event)
	if len(eb.recentEvents) > eb.config.RecentEvents {
		eb.recentEvents = eb.recentEvents[1:]
	}
	eb.stats.TotalEvents++
	eb.stats.EventsByType[string(event.Type)]++

	var matching []*Subscription
	for _, id := range eb.order {
		sub := eb.subscriptions[id]
		if MatchesFilter(event, sub.Filter) {
			matching = append(matching, sub)
		}
	}
	eb.mu.Unlock()

	for _, sub := range matching {
		eb.notifySubscriber(sub, event)
	}
}

func (eb *eventBus) notifySubscriber(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("panic in event handler", "subscription_id", sub.ID, "error", r, "event_id", event.ID)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.logger.Error("event handler error", "subscription_id", sub.ID, "error", err, "event_id", event.ID)
		return
	}

	eb.mu.Lock()
	sub.TriggerCount++
	now := time.Now()
	sub.LastTriggered = &now
	eb.mu.Unlock()
}
