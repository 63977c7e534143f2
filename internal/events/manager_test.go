package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenshed/durastore/internal/logger"
)

func newTestManager(bufferSize int) *Manager {
	return NewManager(bufferSize, logger.NewFromConfig("error", "console"))
}

func TestManager_SubscribeAndNotify(t *testing.T) {
	m := newTestManager(4)
	defer m.Close()

	sub := m.Subscribe()
	m.Notify(Event{Type: "operation_applied", At: time.Now()})

	select {
	case evt := <-sub.Events:
		assert.Equal(t, "operation_applied", evt.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestManager_NotifyFansOut(t *testing.T) {
	m := newTestManager(4)
	defer m.Close()

	first := m.Subscribe()
	second := m.Subscribe()
	m.Notify(Event{Type: "snapshot_created"})

	for _, sub := range []*Subscriber{first, second} {
		select {
		case evt := <-sub.Events:
			assert.Equal(t, "snapshot_created", evt.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the fan-out")
		}
	}
}

func TestManager_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	m := newTestManager(1)
	defer m.Close()

	sub := m.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Notify(Event{Type: "first"})
		m.Notify(Event{Type: "second"}) // buffer full, must not block
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full subscriber buffer")
	}

	evt := <-sub.Events
	assert.Equal(t, "first", evt.Type)
	select {
	case evt := <-sub.Events:
		t.Fatalf("dropped event was delivered: %v", evt)
	default:
	}
}

func TestManager_UnsubscribeClosesChannel(t *testing.T) {
	m := newTestManager(4)
	defer m.Close()

	sub := m.Subscribe()
	m.Unsubscribe(sub.ID)

	_, open := <-sub.Events
	require.False(t, open, "channel should be closed after unsubscribe")

	// Unsubscribing twice is harmless.
	m.Unsubscribe(sub.ID)

	// Events after unsubscribe go nowhere.
	m.Notify(Event{Type: "late"})
}

func TestManager_CloseClosesAllSubscribers(t *testing.T) {
	m := newTestManager(4)

	first := m.Subscribe()
	second := m.Subscribe()
	m.Close()

	for _, sub := range []*Subscriber{first, second} {
		_, open := <-sub.Events
		assert.False(t, open)
	}
}
