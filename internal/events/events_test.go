package events

import (
	"context"
	"testing"
	"time"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	s.Publish(Event{Type: TypeCodeIssued, Email: "buyer@example.com", CodeID: "01HX"})

	select {
	case evt := <-ch:
		if evt.Type != TypeCodeIssued {
			t.Fatalf("unexpected type: %s", evt.Type)
		}
		if evt.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after context end")
	}

	// Publishing after the subscriber left must not panic or block.
	s.Publish(Event{Type: TypeCodeBlocked})
}
