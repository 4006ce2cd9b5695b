package server

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// testLogger returns a logger for tests that keeps output quiet.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker(testLogger(), 8)

	ch1 := broker.Subscribe()
	ch2 := broker.Subscribe()

	event := formatSSE(EventStepRecorded, `{"step_id":"abc"}`)
	broker.broadcast(event)

	select {
	case got := <-ch1:
		if string(got) != string(event) {
			t.Errorf("ch1: got %q, want %q", got, event)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch1: timed out waiting for event")
	}

	select {
	case got := <-ch2:
		if string(got) != string(event) {
			t.Errorf("ch2: got %q, want %q", got, event)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2: timed out waiting for event")
	}

	// Unsubscribe ch1, broadcast again. Only ch2 should receive.
	broker.Unsubscribe(ch1)
	event2 := formatSSE(EventStepRecorded, `{"step_id":"def"}`)
	broker.broadcast(event2)

	select {
	case got := <-ch2:
		if string(got) != string(event2) {
			t.Errorf("ch2: got %q, want %q", got, event2)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2: timed out waiting for event after ch1 unsubscribed")
	}

	if _, ok := <-ch1; ok {
		t.Error("ch1: expected closed channel after unsubscribe")
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	broker := NewBroker(testLogger(), 1)

	ch := broker.Subscribe()
	broker.broadcast([]byte("first"))
	broker.broadcast([]byte("dropped"))

	got := <-ch
	if string(got) != "first" {
		t.Errorf("got %q, want %q", got, "first")
	}

	select {
	case extra := <-ch:
		t.Errorf("expected no second event, got %q", extra)
	default:
	}
}

func TestBrokerPublishFormatsSSE(t *testing.T) {
	broker := NewBroker(testLogger(), 8)
	ch := broker.Subscribe()

	broker.Publish(EventExecutionStarted, map[string]string{"execution_id": "exec_1"})

	select {
	case got := <-ch:
		want := "event: execution.started\ndata: {\"execution_id\":\"exec_1\"}\n\n"
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for published event")
	}
}

func TestBrokerCloseDisconnectsSubscribers(t *testing.T) {
	broker := NewBroker(testLogger(), 8)
	ch := broker.Subscribe()

	broker.Close()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}

	// Publishing and subscribing after Close must not panic.
	broker.Publish(EventStepRecorded, map[string]string{"step_id": "s"})
	if _, ok := <-broker.Subscribe(); ok {
		t.Error("expected Subscribe after Close to return a closed channel")
	}
}
