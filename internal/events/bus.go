package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventZoneCreated      EventType = "ZONE_CREATED"
	EventZoneExpired      EventType = "ZONE_EXPIRED"
	EventZoneTouch        EventType = "ZONE_TOUCH"
	EventRegimeChanged    EventType = "REGIME_CHANGED"
	EventDecisionMade     EventType = "DECISION_MADE"
	EventDecisionRejected EventType = "DECISION_REJECTED"
	EventCycleCompleted   EventType = "CYCLE_COMPLETED"
	EventStoreError       EventType = "STORE_ERROR"
	EventEngineStarted    EventType = "ENGINE_STARTED"
	EventEngineStopped    EventType = "ENGINE_STOPPED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Subscribers run in goroutines so a slow consumer never blocks the
	// publishing path.
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishZoneCreated publishes a zone created event
func (eb *EventBus) PublishZoneCreated(symbol, zoneID string, center float64, tier string) {
	eb.Publish(Event{
		Type: EventZoneCreated,
		Data: map[string]interface{}{
			"symbol":  symbol,
			"zone_id": zoneID,
			"center":  center,
			"tier":    tier,
		},
	})
}

// PublishZoneExpired publishes a zone expired event
func (eb *EventBus) PublishZoneExpired(symbol, zoneID string, center float64, missedCycles int) {
	eb.Publish(Event{
		Type: EventZoneExpired,
		Data: map[string]interface{}{
			"symbol":        symbol,
			"zone_id":       zoneID,
			"center":        center,
			"missed_cycles": missedCycles,
		},
	})
}

// PublishZoneTouch publishes a zone touch event
func (eb *EventBus) PublishZoneTouch(symbol, zoneID string, price, rejectionStrength float64) {
	eb.Publish(Event{
		Type: EventZoneTouch,
		Data: map[string]interface{}{
			"symbol":             symbol,
			"zone_id":            zoneID,
			"price":              price,
			"rejection_strength": rejectionStrength,
		},
	})
}

// PublishRegimeChanged publishes a regime transition event
func (eb *EventBus) PublishRegimeChanged(symbol, previous, current string) {
	eb.Publish(Event{
		Type: EventRegimeChanged,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"previous": previous,
			"current":  current,
		},
	})
}

// PublishDecisionMade publishes a completed risk decision
func (eb *EventBus) PublishDecisionMade(symbol, decisionID, direction string, stopLoss, takeProfit, positionMult, riskReward float64) {
	eb.Publish(Event{
		Type: EventDecisionMade,
		Data: map[string]interface{}{
			"symbol":        symbol,
			"decision_id":   decisionID,
			"direction":     direction,
			"stop_loss":     stopLoss,
			"take_profit":   takeProfit,
			"position_mult": positionMult,
			"risk_reward":   riskReward,
		},
	})
}

// PublishDecisionRejected publishes a rejected risk decision
func (eb *EventBus) PublishDecisionRejected(symbol, direction, reason string) {
	eb.Publish(Event{
		Type: EventDecisionRejected,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
			"reason":    reason,
		},
	})
}

// PublishStoreError publishes a persistence failure event
func (eb *EventBus) PublishStoreError(op, key string, err error) {
	data := map[string]interface{}{
		"op":  op,
		"key": key,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventStoreError,
		Data: data,
	})
}
