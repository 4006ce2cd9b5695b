package server

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event names published over the SSE stream.
const (
	EventExecutionStarted   = "execution.started"
	EventExecutionCompleted = "execution.completed"
	EventStepRecorded       = "step.recorded"
)

// Broker fans out execution lifecycle events to SSE subscribers. Events
// are published in-process by session hooks, which keeps the stream
// working identically across the memory, SQLite, and Postgres backends.
type Broker struct {
	logger  *slog.Logger
	bufSize int

	mu          sync.RWMutex
	closed      bool
	subscribers map[chan []byte]struct{}
}

// NewBroker creates an SSE broker. bufSize is the per-subscriber channel
// buffer; slow subscribers drop events once theirs is full.
func NewBroker(logger *slog.Logger, bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broker{
		logger:      logger,
		bufSize:     bufSize,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Publish broadcasts one event to all subscribers. The payload is
// marshaled to JSON; marshal failures are logged and the event dropped.
func (b *Broker) Publish(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("broker: marshal event", "event", event, "error", err)
		return
	}
	b.broadcast(formatSSE(event, string(data)))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done. Returns a closed channel
// after Close.
func (b *Broker) Subscribe() chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, b.bufSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Close disconnects all subscribers. Publish becomes a no-op.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// broadcast sends an event to all subscribers. Slow subscribers that have
// a full buffer are skipped (their event is dropped) to prevent one slow
// client from blocking all others.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop this event for them.
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
