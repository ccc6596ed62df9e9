package livesync

import "context"

// ============================================================================
// Pagination Cursor
// ============================================================================

// Cursor is the backward-pagination position of an open conversation.
type Cursor struct {
	ConversationID string
	// OldestHeldID is the id of the oldest acknowledged message held.
	OldestHeldID string
	HasMore      bool
	Loading      bool
}

type cursor struct {
	Cursor
	loaded bool
}

func newCursor(conversationID string) *cursor {
	return &cursor{Cursor: Cursor{ConversationID: conversationID, HasMore: true, Loading: true}}
}

// Cursor returns the pagination state of an open conversation.
func (e *Engine) Cursor(conversationID string) (Cursor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.cursors[conversationID]; ok {
		return c.Cursor, true
	}
	return Cursor{}, false
}

// advance records a merged page on the cursor. Requires e.mu.
func (e *Engine) advance(c *cursor, window []Message, pageLen int, last bool) {
	c.loaded = true
	c.OldestHeldID = OldestHeldID(window)
	c.HasMore = pageLen == e.cfg.PageSize && !last
}

// loadInitial fetches the newest page of a freshly opened conversation. The
// result is dropped if the view was closed or reopened meanwhile.
func (e *Engine) loadInitial(ctx context.Context, id string, c *cursor) error {
	page, err := e.api.GetMessages(ctx, MessageQuery{
		ConversationID: id,
		ViewerID:       e.cfg.UserID,
		Size:           e.cfg.PageSize,
	})
	e.metrics.pageLoad(err)

	e.mu.Lock()
	if e.cursors[id] != c {
		e.mu.Unlock()
		return nil
	}
	c.Loading = false
	if err != nil {
		e.mu.Unlock()
		return &PageLoadError{ConversationID: id, Err: err}
	}
	w := MergePage(e.windows[id], page.Content)
	e.windows[id] = w
	e.advance(c, w, len(page.Content), page.Last)
	newest, ok := newestHeld(w)
	if ok {
		e.convs.SetLastMessage(id, newest)
	}
	e.mu.Unlock()

	e.events.emit(Event{Kind: EventMessages, ConversationID: id})
	if ok {
		e.markRead(id, newest.ID)
	}
	return nil
}

// LoadOlder fetches the page of messages just older than the oldest held
// one and merges it into the active window. It reports false without a
// request when a load is in flight or the history is exhausted. On failure
// the cursor is unchanged and the call can be retried.
func (e *Engine) LoadOlder(ctx context.Context) (bool, error) {
	e.mu.Lock()
	id := e.active
	c := e.cursors[id]
	if id == "" || c == nil {
		e.mu.Unlock()
		return false, ErrNoActiveConversation
	}
	if c.Loading || !c.loaded || !c.HasMore || c.OldestHeldID == "" {
		e.mu.Unlock()
		return false, nil
	}
	c.Loading = true
	before := c.OldestHeldID
	e.mu.Unlock()

	page, err := e.api.GetMessages(ctx, MessageQuery{
		ConversationID:  id,
		ViewerID:        e.cfg.UserID,
		BeforeMessageID: before,
		Size:            e.cfg.PageSize,
	})
	e.metrics.pageLoad(err)

	e.mu.Lock()
	if e.cursors[id] != c {
		e.mu.Unlock()
		return false, nil
	}
	c.Loading = false
	if err != nil {
		e.mu.Unlock()
		return false, &PageLoadError{ConversationID: id, Before: before, Err: err}
	}
	w := MergePage(e.windows[id], page.Content)
	e.windows[id] = w
	e.advance(c, w, len(page.Content), page.Last)
	e.mu.Unlock()

	e.events.emit(Event{Kind: EventMessages, ConversationID: id})
	return true, nil
}

// refreshActive merges the newest page of the active conversation after a
// reconnect. When the page shares nothing with the held window, more than a
// page was missed; the window restarts from the page so history has no
// hole, keeping unacknowledged placeholders, and pagination starts over.
func (e *Engine) refreshActive(ctx context.Context, id string, c *cursor) error {
	page, err := e.api.GetMessages(ctx, MessageQuery{
		ConversationID: id,
		ViewerID:       e.cfg.UserID,
		Size:           e.cfg.PageSize,
	})
	e.metrics.pageLoad(err)
	if err != nil {
		return &PageLoadError{ConversationID: id, Err: err}
	}

	e.mu.Lock()
	if e.cursors[id] != c {
		e.mu.Unlock()
		return nil
	}
	w := e.windows[id]
	switch {
	case !c.loaded:
		w = MergePage(w, page.Content)
		e.advance(c, w, len(page.Content), page.Last)
	case overlaps(w, page.Content):
		w = MergePage(w, page.Content)
		c.OldestHeldID = OldestHeldID(w)
	default:
		e.logger.Info("history gap after reconnect, restarting window", "conversation_id", id)
		pending := Remove(w, func(m Message) bool { return m.ID != "" })
		w = MergePage(pending, page.Content)
		// A new cursor makes an older page still in flight land as stale.
		fresh := newCursor(id)
		fresh.Loading = false
		e.cursors[id] = fresh
		e.advance(fresh, w, len(page.Content), page.Last)
	}
	e.windows[id] = w
	if newest, ok := newestHeld(w); ok {
		e.convs.SetLastMessage(id, newest)
	}
	e.mu.Unlock()

	e.events.emit(Event{Kind: EventMessages, ConversationID: id})
	return nil
}
