package livesync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake Transport
// ============================================================================

type fakeSession struct {
	mu           sync.Mutex
	subs         map[string]string
	subscribes   []string
	nextID       int
	subscribeErr error

	frames    chan Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		subs:   make(map[string]string),
		frames: make(chan Frame, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) Subscribe(_ context.Context, destination string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return "", s.subscribeErr
	}
	s.nextID++
	id := fmt.Sprintf("sub-%d", s.nextID)
	s.subs[id] = destination
	s.subscribes = append(s.subscribes, destination)
	return id, nil
}

func (s *fakeSession) Unsubscribe(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	return nil
}

func (s *fakeSession) Next(ctx context.Context) (Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return Frame{}, &TransportError{Op: "read", Err: io.EOF}
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// destinations returns the active subscriptions' destinations, sorted.
func (s *fakeSession) destinations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for _, d := range s.subs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (s *fakeSession) subscriptionID(destination string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.subs {
		if d == destination {
			return id
		}
	}
	return ""
}

// push delivers body on the subscription to destination. A []byte or
// string body is sent as is; anything else is JSON encoded.
func (s *fakeSession) push(t *testing.T, destination string, body any) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	id := s.subscriptionID(destination)
	require.NotEmpty(t, id, "no subscription to %s", destination)
	s.frames <- Frame{Subscription: id, Destination: destination, Body: raw}
}

type fakeTransport struct {
	mu       sync.Mutex
	sessions []*fakeSession
	dialErr  error
}

func (t *fakeTransport) Dial(context.Context) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dialErr != nil {
		return nil, &TransportError{Op: "dial", Err: t.dialErr}
	}
	s := newFakeSession()
	t.sessions = append(t.sessions, s)
	return s, nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *fakeTransport) session(i int) *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.sessions) {
		return nil
	}
	return t.sessions[i]
}

// ============================================================================
// Fake Request API
// ============================================================================

type fakeAPI struct {
	mu sync.Mutex

	conversations []Conversation
	convErr       error
	convCalls     int

	// messages holds each conversation's history, oldest first.
	messages    map[string][]Message
	messagesErr error
	messageGate chan struct{}
	olderGate   chan struct{}
	queries     []MessageQuery

	sendErr error
	sent    []SendMessageRequest

	reactErr  error
	reactions []string

	markReads []string
	direct    *Conversation

	game         GameDetail
	participants []GameParticipant
	leaderboard  []LeaderboardEntry
	gameCalls    int

	participantsGate  chan struct{}
	participantsCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{messages: make(map[string][]Message)}
}

func (a *fakeAPI) GetConversations(_ context.Context, _ string, page, size int) (*Page[Conversation], error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.convCalls++
	if a.convErr != nil {
		return nil, a.convErr
	}
	start := page * size
	if start > len(a.conversations) {
		start = len(a.conversations)
	}
	end := start + size
	if end > len(a.conversations) {
		end = len(a.conversations)
	}
	return &Page[Conversation]{
		Content: clone(a.conversations[start:end]),
		Number:  page,
		Size:    size,
		Last:    end == len(a.conversations),
	}, nil
}

func (a *fakeAPI) GetMessages(_ context.Context, q MessageQuery) (*Page[Message], error) {
	a.mu.Lock()
	a.queries = append(a.queries, q)
	gate := a.messageGate
	if q.BeforeMessageID != "" && a.olderGate != nil {
		gate = a.olderGate
	}
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.messagesErr != nil {
		return nil, a.messagesErr
	}
	history := a.messages[q.ConversationID]
	end := len(history)
	if q.BeforeMessageID != "" {
		for i, m := range history {
			if m.ID == q.BeforeMessageID {
				end = i
				break
			}
		}
	}
	start := end - q.Size
	if start < 0 {
		start = 0
	}
	// Newest first, like the server.
	page := make([]Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		page = append(page, history[i])
	}
	return &Page[Message]{Content: page, Size: q.Size, Last: start == 0}, nil
}

func (a *fakeAPI) SendMessage(_ context.Context, _ string, req SendMessageRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, req)
	return a.sendErr
}

func (a *fakeAPI) AddReaction(_ context.Context, messageID, _, emoji string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reactions = append(a.reactions, "add:"+messageID+":"+emoji)
	return a.reactErr
}

func (a *fakeAPI) RemoveReaction(_ context.Context, messageID, _, emoji string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reactions = append(a.reactions, "remove:"+messageID+":"+emoji)
	return a.reactErr
}

func (a *fakeAPI) MarkReadUpTo(_ context.Context, conversationID, messageID, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markReads = append(a.markReads, conversationID+":"+messageID)
	return nil
}

func (a *fakeAPI) GetOrCreateDirect(_ context.Context, _, _ string) (*Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.direct == nil {
		return nil, &APIError{Status: 404, Message: "no such user"}
	}
	c := *a.direct
	return &c, nil
}

func (a *fakeAPI) GetGameDetails(_ context.Context, _ string) (*GameDetail, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gameCalls++
	d := a.game
	return &d, nil
}

func (a *fakeAPI) GetParticipants(_ context.Context, _ string) ([]GameParticipant, error) {
	a.mu.Lock()
	a.participantsCalls++
	out := clone(a.participants)
	gate := a.participantsGate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return out, nil
}

func (a *fakeAPI) GetLeaderboard(_ context.Context, _ string) ([]LeaderboardEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return clone(a.leaderboard), nil
}

func (a *fakeAPI) locked(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn()
}

// ============================================================================
// Helpers
// ============================================================================

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(minute int) time.Time { return epoch.Add(time.Duration(minute) * time.Minute) }

func msg(conversationID string, n int) Message {
	return Message{
		ID:             fmt.Sprint(n),
		ConversationID: conversationID,
		SenderID:       "bob",
		Content:        fmt.Sprintf("message %d", n),
		CreatedAt:      at(n),
		State:          MessageConfirmed,
	}
}

func history(conversationID string, from, to int) []Message {
	var out []Message
	for n := from; n <= to; n++ {
		out = append(out, msg(conversationID, n))
	}
	return out
}

func ids(window []Message) []string {
	out := make([]string, len(window))
	for i, m := range window {
		out[i] = m.ID
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msgAndArgs...)
}

func testConfig() Config {
	return Config{
		UserID:         "me",
		PageSize:       30,
		ReconnectDelay: 10 * time.Millisecond,
		EventBuffer:    1024,
		Logger:         quietLogger(),
		Now:            func() time.Time { return at(1000) },
	}
}

// startEngine starts e and waits until the first session is connected with
// its inbox subscribed and the connect refresh has finished. Events emitted
// up to the refresh are consumed.
func startEngine(t *testing.T, e *Engine, api *fakeAPI, tr *fakeTransport) *fakeSession {
	t.Helper()
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Close() })

	eventually(t, func() bool {
		s := tr.session(0)
		return s != nil && s.subscriptionID(InboxDestination) != ""
	}, "inbox never subscribed")
	waitEvent(t, e.Events(), EventRefreshed)
	api.locked(func() { require.GreaterOrEqual(t, api.convCalls, 1) })
	require.Equal(t, StateConnected, e.ConnectionState())
	return tr.session(0)
}

// waitEvent drains events until one of kind arrives.
func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "events closed before %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}
