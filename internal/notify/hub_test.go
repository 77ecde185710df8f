package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kioku-ai/kioku/pkg/types"
)

type fakeSubscriber struct {
	recv chan []byte
}

func (f *fakeSubscriber) sendChannel() chan []byte { return f.recv }
func (f *fakeSubscriber) shutdown()                {}

func startHub(t *testing.T) (*Hub, *fakeSubscriber) {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)

	sub := &fakeSubscriber{recv: make(chan []byte, 8)}
	h.register <- sub
	return h, sub
}

func receive(t *testing.T, sub *fakeSubscriber) Event {
	t.Helper()
	select {
	case data := <-sub.recv:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	return Event{}
}

func TestMemoryCommittedEventDelivered(t *testing.T) {
	h, sub := startHub(t)

	h.MemoryCommitted(2, 1, 0)

	ev := receive(t, sub)
	if ev.Kind != EventMemoryCommitted {
		t.Errorf("kind = %q, want %q", ev.Kind, EventMemoryCommitted)
	}
	payload, ok := ev.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("payload type %T", ev.Payload)
	}
	if payload["memories"] != float64(2) || payload["goals"] != float64(1) {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestSessionBoundaryCarriesTrigger(t *testing.T) {
	h, sub := startHub(t)

	h.SessionBoundary("session-1", "commit")

	ev := receive(t, sub)
	if ev.Kind != EventSessionBoundary {
		t.Fatalf("kind = %q", ev.Kind)
	}
	payload, ok := ev.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("payload type %T", ev.Payload)
	}
	if payload["trigger"] != "commit" || payload["session_id"] != "session-1" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestDropAfterStopDoesNotBlock(t *testing.T) {
	h := NewHub()
	go h.Run()
	h.Stop()

	done := make(chan struct{})
	go func() {
		h.drop(&fakeSubscriber{recv: make(chan []byte, 1)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drop blocked after hub shutdown")
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	h, _ := startHub(t)

	slow := &fakeSubscriber{recv: make(chan []byte)} // unbuffered, never read
	h.register <- slow

	h.ReminderDue(&types.Reminder{ID: 1, Content: "water the plants"})

	// The drop closes the subscriber's channel.
	select {
	case _, open := <-slow.recv:
		if open {
			t.Error("expected slow subscriber channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Error("slow subscriber was not dropped")
	}
}
