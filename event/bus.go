// Package event provides the typed publish/subscribe bus used to observe
// transfer lifecycle notifications.
package event

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Type identifies one of the fixed notification channels.
type Type string

const (
	// Start is published when a worker begins processing an item.
	Start Type = "start"
	// Progress is published as an item's transferred byte count advances.
	Progress Type = "progress"
	// Complete is published once per item after it reaches a terminal
	// state, success or failure, always after every Progress event for
	// that item.
	Complete Type = "complete"
	// Error is published when an item fails.
	Error Type = "error"
	// Cancel is published when an item is aborted by cooperative
	// cancellation.
	Cancel Type = "cancel"
)

// Event describes a single transfer lifecycle notification.
type Event struct {
	Type             Type
	ItemID           string
	Source           string
	Destination      string
	Status           string
	BytesTransferred uint64
	TotalBytes       uint64
	Err              string
	Timestamp        time.Time
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine; a handler that panics is recovered and logged and
// never disturbs the publisher.
type Handler func(Event)

// Bus dispatches events to subscribed handlers per channel, in
// subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe appends a handler to the channel's dispatch list.
func (b *Bus) Subscribe(t Type, h Handler) {
	if h == nil {
		return
	}

	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Subscribe",
		"channel":  t,
	}).Debug("Event handler subscribed")
}

// HandlerCount returns the number of handlers subscribed to the channel.
func (b *Bus) HandlerCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}

// Publish delivers the event to every handler subscribed to its channel,
// in subscription order. Handler panics are recovered and logged so one
// broken observer cannot abort the dispatch loop or the engine.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[e.Type]))
	copy(handlers, b.handlers[e.Type])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, e)
	}
}

// invoke runs a single handler with panic isolation.
func (b *Bus) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Publish",
				"channel":  e.Type,
				"item_id":  e.ItemID,
				"panic":    r,
			}).Error("Event handler panicked")
		}
	}()

	h(e)
}
