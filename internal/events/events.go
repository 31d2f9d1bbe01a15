package events

import (
	"context"
	"sync"
	"time"
)

// Type enumerates license lifecycle events published to the admin feed.
type Type string

const (
	TypeCodeIssued    Type = "code_issued"
	TypeDeviceBound   Type = "device_bound"
	TypeCodeBlocked   Type = "code_blocked"
	TypeAdminOverride Type = "admin_override"
)

// Event describes a single lifecycle transition. Emails are included because
// the feed is only exposed on the admin surface.
type Event struct {
	Type      Type      `json:"type"`
	Email     string    `json:"email"`
	CodeID    string    `json:"code_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs lifecycle events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if s == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
