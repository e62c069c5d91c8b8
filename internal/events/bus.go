// Package events carries the engine's internal pub/sub bus. The API layer
// subscribes to stream events over websocket without importing the engine.
package events

import (
	"sync"
	"time"
)

// EventType identifies a bus event.
type EventType string

const (
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventTradingPaused   EventType = "TRADING_PAUSED"
	EventTradingResumed  EventType = "TRADING_RESUMED"
	EventBalanceUpdate   EventType = "BALANCE_UPDATE"
	EventError           EventType = "ERROR"
)

// Event is one bus message.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles events. Subscribers are invoked on their own
// goroutine and must not assume ordering across events.
type Subscriber func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish delivers the event to matching subscribers. Delivery is
// asynchronous so a slow subscriber never stalls the trading cycle.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal generated event.
func (b *Bus) PublishSignal(symbol, direction, reason string, confidence, price float64) {
	b.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"direction":  direction,
			"reason":     reason,
			"confidence": confidence,
			"price":      price,
		},
	})
}

// PublishTradeOpened publishes a trade opened event.
func (b *Bus) PublishTradeOpened(symbol, side string, entryPrice, amount float64) {
	b.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"side":        side,
			"entry_price": entryPrice,
			"amount":      amount,
		},
	})
}

// PublishTradeClosed publishes a trade closed event.
func (b *Bus) PublishTradeClosed(symbol, side, exitReason string, entryPrice, exitPrice, profit, profitPercent float64) {
	b.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"symbol":         symbol,
			"side":           side,
			"exit_reason":    exitReason,
			"entry_price":    entryPrice,
			"exit_price":     exitPrice,
			"profit":         profit,
			"profit_percent": profitPercent,
		},
	})
}

// PublishTradingPaused publishes a drawdown pause event.
func (b *Bus) PublishTradingPaused(reason string, drawdownPercent float64, pausedUntil time.Time) {
	b.Publish(Event{
		Type: EventTradingPaused,
		Data: map[string]interface{}{
			"reason":           reason,
			"drawdown_percent": drawdownPercent,
			"paused_until":     pausedUntil,
		},
	})
}

// PublishBalanceUpdate publishes the current equity.
func (b *Bus) PublishBalanceUpdate(equity, peak float64) {
	b.Publish(Event{
		Type: EventBalanceUpdate,
		Data: map[string]interface{}{
			"equity": equity,
			"peak":   peak,
		},
	})
}

// PublishError publishes an error event.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}
