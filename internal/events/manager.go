// Package events fans engine events out to subscribers over bounded
// channels. Slow subscribers drop events rather than block the engine.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/metrics"
)

// Event is a single engine observation pushed to subscribers.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// Subscriber receives events on its channel until Unsubscribe.
type Subscriber struct {
	ID     string
	Events chan Event
}

// Manager manages all active subscribers
type Manager struct {
	mu         sync.RWMutex
	subs       map[string]*Subscriber
	bufferSize int
	log        logger.Logger
}

// NewManager creates a new event manager
func NewManager(bufferSize int, log logger.Logger) *Manager {
	return &Manager{
		subs:       make(map[string]*Subscriber),
		bufferSize: bufferSize,
		log:        log,
	}
}

// Subscribe registers a new subscriber
func (m *Manager) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:     uuid.New().String(),
		Events: make(chan Event, m.bufferSize),
	}

	m.mu.Lock()
	m.subs[sub.ID] = sub
	m.mu.Unlock()

	m.log.Debug("Event subscriber added", logger.String("id", sub.ID))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	sub, exists := m.subs[id]
	if exists {
		delete(m.subs, id)
	}
	m.mu.Unlock()

	if exists {
		close(sub.Events)
		m.log.Debug("Event subscriber removed", logger.String("id", id))
	}
}

// Notify sends an event to all subscribers without blocking. Events to full
// buffers are dropped and counted.
func (m *Manager) Notify(event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics.EventsPublishedTotal.WithLabelValues(event.Type).Inc()

	for _, sub := range m.subs {
		select {
		case sub.Events <- event:
		default:
			metrics.EventsDroppedTotal.Inc()
			m.log.Warn("Subscriber buffer full, dropping event",
				logger.String("subscriber_id", sub.ID),
				logger.String("event_type", event.Type))
		}
	}
}

// Close removes every subscriber.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sub := range m.subs {
		close(sub.Events)
		delete(m.subs, id)
	}
}
