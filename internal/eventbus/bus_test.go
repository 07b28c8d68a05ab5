package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TopicEditSucceeded})
	b.Publish(Event{Type: TopicEditRetry})

	if e := <-a; e.Type != TopicEditSucceeded || e.Time.IsZero() {
		t.Fatalf("unexpected first event on a: %+v", e)
	}
	if got := len(c); got != 2 {
		t.Fatalf("c buffered %d events, want 2", got)
	}
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
}

func TestUnsubscribeClosesAndStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	b.Publish(Event{Type: TopicEditDropped}) // must not panic
}
