package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeFeedCycle})
	b.Publish(Event{Type: TypeNotifierSent})

	if got := len(a); got != 1 {
		t.Fatalf("small subscriber len = %d, want 1 (second event dropped)", got)
	}
	if got := len(c); got != 2 {
		t.Fatalf("large subscriber len = %d, want 2", got)
	}
	e := <-c
	if e.Type != TypeFeedCycle || e.Time.IsZero() {
		t.Fatalf("first event = %+v, want feed.cycle with time set", e)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	b.Publish(Event{Type: TypeFeedCycle})
}
