package livesync

import "sync"

// ============================================================================
// Events
// ============================================================================

// EventKind names a change notification.
type EventKind string

const (
	EventMessages      EventKind = "messages.changed"
	EventConversations EventKind = "conversations.changed"
	EventConnection    EventKind = "connection.changed"
	EventSendFailed    EventKind = "message.failed"
	EventRefreshed     EventKind = "state.refreshed"
	EventGame          EventKind = "game.changed"
)

// Event is one change notification. Events carry identifiers, not state;
// read the current state through the engine's snapshot methods.
type Event struct {
	Kind           EventKind
	ConversationID string
	GameID         string

	// Message is set on EventSendFailed to the removed placeholder.
	Message *Message

	// State and Attempt are set on EventConnection.
	State   ConnState
	Attempt int

	Err error
}

// eventStream is a bounded, non-blocking fan-out to a single consumer
// channel. A full buffer drops the notification.
type eventStream struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	metrics *Metrics
}

func newEventStream(size int, m *Metrics) *eventStream {
	return &eventStream{ch: make(chan Event, size), metrics: m}
}

func (s *eventStream) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.metrics.dropped()
	}
}

func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
