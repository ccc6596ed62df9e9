package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Engine keeps the viewer's conversation list and the active conversation's
// message window in sync with the server.
//
// Every state transition runs to completion under one mutex; network calls
// are made outside it and their results re-validated when they land. Callers
// observe changes through Events and read state through the snapshot
// methods, which return copies.
type Engine struct {
	api     API
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	subs    *subscriptionManager
	events  *eventStream
	life    lifecycle

	mu          sync.Mutex
	convs       ConversationList
	convPage    int
	convHasMore bool
	convLoading bool
	active      string
	windows     map[string][]Message
	cursors     map[string]*cursor

	// viewMu serializes opening and closing conversation views so topic
	// switches are applied in call order.
	viewMu sync.Mutex
	// reactMu serializes reaction toggles.
	reactMu sync.Mutex
}

// NewEngine creates an engine for cfg.UserID. Nothing is connected until
// Start is called.
func NewEngine(api API, transport Transport, cfg Config) *Engine {
	cfg.defaults()
	e := &Engine{
		api:         api,
		cfg:         cfg,
		logger:      cfg.Logger.With("user_id", cfg.UserID),
		metrics:     cfg.Metrics,
		events:      newEventStream(cfg.EventBuffer, cfg.Metrics),
		convHasMore: true,
		windows:     make(map[string][]Message),
		cursors:     make(map[string]*cursor),
	}
	e.life.init()
	e.subs = newSubscriptionManager(transport, subscriptionHooks{
		inbox:       InboxDestination,
		onInbox:     e.handleInbox,
		onTopic:     e.handleTopic,
		onConnected: e.handleConnected,
		onState:     e.handleState,
	}, cfg.ReconnectDelay, e.logger, cfg.Metrics)
	return e
}

// Start connects in the background and keeps reconnecting until ctx is
// cancelled or Close is called. Every successful connect refreshes the
// conversation list and the active conversation.
func (e *Engine) Start(ctx context.Context) error {
	return e.life.start(ctx, e.subs.run)
}

// Close stops the connection loop, waits for background calls and closes
// the Events channel. It is safe to call more than once.
func (e *Engine) Close() error {
	if e.life.close() {
		e.events.close()
	}
	return nil
}

// Events returns the change notification channel. It is closed by Close.
func (e *Engine) Events() <-chan Event { return e.events.ch }

// ConnectionState returns the current pub/sub connection state.
func (e *Engine) ConnectionState() ConnState { return e.subs.State() }

// Conversations returns the conversation list, newest activity first.
func (e *Engine) Conversations() []Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.convs.Snapshot()
}

// Conversation returns one held conversation.
func (e *Engine) Conversation(id string) (Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.convs.Get(id)
}

// ActiveConversation returns the id of the open conversation, or "".
func (e *Engine) ActiveConversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Messages returns the held window of a conversation, oldest first.
func (e *Engine) Messages(conversationID string) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.windows[conversationID])
}

// ============================================================================
// Conversation List
// ============================================================================

// LoadConversations fetches the first page of conversations and merges it
// into the list.
func (e *Engine) LoadConversations(ctx context.Context) error {
	page, err := e.api.GetConversations(ctx, e.cfg.UserID, 0, e.cfg.ConversationPageSize)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	e.mu.Lock()
	e.convs.MergePage(page.Content, e.active)
	if e.convPage == 0 {
		e.convPage = 1
		e.convHasMore = !page.Last && len(page.Content) == e.cfg.ConversationPageSize
	}
	e.mu.Unlock()

	e.events.emit(Event{Kind: EventConversations})
	return nil
}

// LoadMoreConversations fetches the next page of conversations. It reports
// false without a request when a page is already loading or the list is
// complete.
func (e *Engine) LoadMoreConversations(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.convLoading || !e.convHasMore || e.convPage == 0 {
		e.mu.Unlock()
		return false, nil
	}
	e.convLoading = true
	next := e.convPage
	e.mu.Unlock()

	page, err := e.api.GetConversations(ctx, e.cfg.UserID, next, e.cfg.ConversationPageSize)

	e.mu.Lock()
	e.convLoading = false
	if err != nil {
		e.mu.Unlock()
		return false, fmt.Errorf("load conversations page %d: %w", next, err)
	}
	e.convs.MergePage(page.Content, e.active)
	e.convPage = next + 1
	e.convHasMore = !page.Last && len(page.Content) == e.cfg.ConversationPageSize
	e.mu.Unlock()

	e.events.emit(Event{Kind: EventConversations})
	return true, nil
}

// ============================================================================
// Conversation View
// ============================================================================

// OpenConversation makes id the active conversation: its unread count is
// cleared, its topic subscribed, and its newest page of messages loaded.
// The previously active conversation's window and cursor are discarded.
// Opening the already active conversation again only retries a failed
// initial load.
func (e *Engine) OpenConversation(ctx context.Context, id string) error {
	if e.life.isClosed() {
		return ErrClosed
	}

	e.viewMu.Lock()
	e.mu.Lock()
	if c := e.cursors[id]; e.active == id && c != nil && (c.Loading || c.loaded) {
		e.convs.ResetUnread(id)
		e.mu.Unlock()
		e.viewMu.Unlock()
		e.events.emit(Event{Kind: EventConversations, ConversationID: id})
		return nil
	}
	if e.active != "" && e.active != id {
		e.discardView(e.active)
	}
	e.active = id
	e.convs.ResetUnread(id)
	c := newCursor(id)
	e.cursors[id] = c
	e.mu.Unlock()
	e.events.emit(Event{Kind: EventConversations, ConversationID: id})

	if err := e.subs.SetTopic(ctx, ConversationTopic(id)); err != nil {
		// The next connect subscribes the remembered topic and refreshes.
		e.logger.Warn("topic subscribe failed", "conversation_id", id, "err", err)
	}
	e.viewMu.Unlock()

	return e.loadInitial(ctx, id, c)
}

// CloseConversation closes the active conversation view, dropping its
// window, cursor and topic subscription.
func (e *Engine) CloseConversation(ctx context.Context) error {
	e.viewMu.Lock()
	defer e.viewMu.Unlock()

	e.mu.Lock()
	id := e.active
	if id != "" {
		e.discardView(id)
		e.active = ""
	}
	e.mu.Unlock()
	if id == "" {
		return nil
	}

	e.events.emit(Event{Kind: EventMessages, ConversationID: id})
	return e.subs.SetTopic(ctx, "")
}

// OpenDirect finds or creates the direct conversation with another user,
// adds it to the list and opens it.
func (e *Engine) OpenDirect(ctx context.Context, otherUserID string) (Conversation, error) {
	conv, err := e.api.GetOrCreateDirect(ctx, e.cfg.UserID, otherUserID)
	if err != nil {
		return Conversation{}, fmt.Errorf("open direct conversation: %w", err)
	}

	e.mu.Lock()
	if !e.convs.Contains(conv.ID) {
		e.convs.Upsert(*conv)
	}
	e.mu.Unlock()
	e.events.emit(Event{Kind: EventConversations, ConversationID: conv.ID})

	return *conv, e.OpenConversation(ctx, conv.ID)
}

// discardView drops a conversation's window and cursor. Requires e.mu.
func (e *Engine) discardView(id string) {
	delete(e.windows, id)
	delete(e.cursors, id)
}

// ============================================================================
// Live Events
// ============================================================================

func (e *Engine) handleState(state ConnState, attempt int, err error) {
	e.events.emit(Event{Kind: EventConnection, State: state, Attempt: attempt, Err: err})
}

func (e *Engine) handleConnected(context.Context) {
	e.life.goAsync(e.refresh)
}

// refresh refetches what a closed connection may have missed: the first
// page of conversations and the newest page of the active conversation.
func (e *Engine) refresh(ctx context.Context) {
	if err := e.LoadConversations(ctx); err != nil {
		e.logger.Warn("refresh conversations failed", "err", err)
	}

	e.mu.Lock()
	id := e.active
	c := e.cursors[id]
	e.mu.Unlock()
	if id != "" && c != nil {
		if err := e.refreshActive(ctx, id, c); err != nil {
			e.logger.Warn("refresh active conversation failed", "conversation_id", id, "err", err)
		}
	}

	e.events.emit(Event{Kind: EventRefreshed, ConversationID: id})
}

// handleInbox applies a NEW_MESSAGE from the personal inbox. The active
// conversation's window takes the message; any other conversation only
// moves up the list and gains an unread message.
func (e *Engine) handleInbox(f Frame) {
	var ev InboxEvent
	if err := json.Unmarshal(f.Body, &ev); err != nil {
		e.dropMalformed(f, err)
		return
	}
	if ev.Type != inboxNewMessage {
		e.logger.Debug("ignoring inbox event", "type", ev.Type)
		return
	}
	if ev.Message == nil || ev.Message.ConversationID == "" {
		e.dropMalformed(f, errors.New("NEW_MESSAGE without a conversation id"))
		return
	}

	m := ev.Message.normalize()
	id := m.ConversationID

	e.mu.Lock()
	known := e.convs.Contains(id)
	var markRead string
	if id == e.active {
		e.windows[id], m = e.upsertLive(e.windows[id], m)
		e.convs.SetLastMessage(id, m)
		e.convs.ResetUnread(id)
		markRead = m.ID
	} else {
		m = e.stampNew(m)
		// The viewer's own messages, sent from another device, are read.
		if m.SenderID != e.cfg.UserID {
			e.convs.CountUnread(id, m)
		}
		e.convs.SetLastMessage(id, m)
	}
	active := id == e.active
	e.mu.Unlock()

	if active {
		e.events.emit(Event{Kind: EventMessages, ConversationID: id})
	}
	e.events.emit(Event{Kind: EventConversations, ConversationID: id})

	if !known {
		e.life.goAsync(func(ctx context.Context) {
			if err := e.LoadConversations(ctx); err != nil {
				e.logger.Warn("load conversations for new conversation failed", "conversation_id", id, "err", err)
			}
		})
	}
	if markRead != "" {
		e.markRead(id, markRead)
	}
}

// handleTopic applies a message pushed on the active conversation's topic:
// new messages, send echoes and updates such as reaction counts.
func (e *Engine) handleTopic(f Frame) {
	var m Message
	if err := json.Unmarshal(f.Body, &m); err != nil {
		e.dropMalformed(f, err)
		return
	}
	if m.ID == "" && m.ClientID == "" {
		e.dropMalformed(f, errors.New("message without id or client id"))
		return
	}
	m = m.normalize()

	e.mu.Lock()
	id := e.active
	if id == "" || (m.ConversationID != "" && m.ConversationID != id) {
		e.mu.Unlock()
		e.logger.Debug("dropping message for inactive conversation", "conversation_id", m.ConversationID)
		return
	}
	m.ConversationID = id
	e.windows[id], m = e.upsertLive(e.windows[id], m)
	moved := e.convs.SetLastMessage(id, m)
	e.mu.Unlock()

	e.events.emit(Event{Kind: EventMessages, ConversationID: id})
	if moved {
		e.events.emit(Event{Kind: EventConversations, ConversationID: id})
	}
}

// upsertLive merges a pushed message into a window. A message not held yet
// that carries no timestamp is stamped with the local clock so it lands at
// the end of the window. Requires e.mu.
func (e *Engine) upsertLive(window []Message, m Message) ([]Message, Message) {
	if IndexOf(window, m, messageKeys) < 0 {
		m = e.stampNew(m)
	}
	window = UpsertMessage(window, m)
	if i := IndexOf(window, m, messageKeys); i >= 0 {
		m = window[i]
	}
	return window, m
}

func (e *Engine) stampNew(m Message) Message {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = e.cfg.Now()
	}
	return m
}

func (e *Engine) markRead(conversationID, messageID string) {
	e.life.goAsync(func(ctx context.Context) {
		if err := e.api.MarkReadUpTo(ctx, conversationID, messageID, e.cfg.UserID); err != nil {
			e.logger.Warn("mark read failed", "conversation_id", conversationID, "message_id", messageID, "err", err)
		}
	})
}

func (e *Engine) dropMalformed(f Frame, err error) {
	e.metrics.malformedFrame()
	e.logger.Warn("dropping malformed event", "err", &MalformedEventError{Destination: f.Destination, Err: err})
}
