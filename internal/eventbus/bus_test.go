package eventbus

import (
	"testing"
	"time"
)

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	runs, unsubRuns := b.Subscribe(4, RunCompleted)
	defer unsubRuns()

	b.Publish(Event{Type: RunStarted})
	b.Publish(Event{Type: RunCompleted, Data: "r1"})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(runs); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-runs
	if e.Data != "r1" || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: RunStarted})
	b.Publish(Event{Type: RunStarted})
	if len(ch) != 1 {
		t.Fatalf("expected buffer to hold 1 event, got %d", len(ch))
	}
	if b.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", b.Dropped())
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
	b.Publish(Event{Type: RunStarted})
}
