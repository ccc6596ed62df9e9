package livesync

import "time"

// ============================================================================
// Conversation List
// ============================================================================

// ConversationList holds the viewer's conversations ordered newest activity
// first. A conversation's activity time is its last message time, or its
// creation time when it has no messages.
//
// ConversationList is not safe for concurrent use; Engine serializes access.
type ConversationList struct {
	items []Conversation
	// counted holds the live messages counted as unread per conversation
	// since its count was last reset.
	counted map[string]map[string]struct{}
}

var conversationKeys = Keys[Conversation]{
	Key: func(c Conversation) string { return c.ID },
	Less: func(a, b Conversation) bool {
		ta, tb := activityTime(a), activityTime(b)
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.ID < b.ID
	},
}

func activityTime(c Conversation) time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.CreatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

// Len returns the number of held conversations.
func (l *ConversationList) Len() int { return len(l.items) }

// Snapshot returns a copy of the ordered list.
func (l *ConversationList) Snapshot() []Conversation {
	return clone(l.items)
}

// Get returns the held conversation with the given id.
func (l *ConversationList) Get(id string) (Conversation, bool) {
	if i := l.index(id); i >= 0 {
		return l.items[i], true
	}
	return Conversation{}, false
}

// Contains reports whether the conversation is held.
func (l *ConversationList) Contains(id string) bool { return l.index(id) >= 0 }

// Upsert inserts or replaces one conversation at its sorted position.
func (l *ConversationList) Upsert(c Conversation) {
	l.items = Upsert(l.items, c, conversationKeys)
}

// MergePage merges a page fetched from the request API. Server state wins,
// except that the active conversation keeps an unread count of zero.
func (l *ConversationList) MergePage(page []Conversation, activeID string) {
	for _, c := range page {
		if c.ID == activeID {
			c.UnreadCount = 0
		}
		if held, ok := l.Get(c.ID); ok && c.LastMessage != nil && held.LastMessage != nil &&
			held.LastMessage.CreatedAt.After(c.LastMessage.CreatedAt) {
			// A live event already moved this conversation past the page.
			c.LastMessage = held.LastMessage
		}
		l.Upsert(c)
	}
}

// SetLastMessage records m as the conversation's last message and moves the
// conversation to its new position. It reports whether m is a message the
// conversation had not seen as its last message before. Messages older than
// the current last message are ignored; a re-delivery of the current last
// message is merged in place.
func (l *ConversationList) SetLastMessage(conversationID string, m Message) bool {
	i := l.index(conversationID)
	if i < 0 {
		return false
	}
	c := l.items[i]
	if last := c.LastMessage; last != nil {
		if sameMessage(*last, m) {
			merged := MergeMessage(*last, m)
			c.LastMessage = &merged
			l.replace(i, c)
			return false
		}
		if m.CreatedAt.Before(last.CreatedAt) {
			return false
		}
	}
	lm := m
	c.LastMessage = &lm
	l.replace(i, c)
	return true
}

// CountUnread adds one to the conversation's unread count for a live message
// and reports whether it did. Re-deliveries are not counted: a message equal
// to the held last message, or one already counted since the last reset.
// Delivery order does not matter.
func (l *ConversationList) CountUnread(conversationID string, m Message) bool {
	i := l.index(conversationID)
	if i < 0 {
		return false
	}
	if last := l.items[i].LastMessage; last != nil && sameMessage(*last, m) {
		return false
	}
	if key := unreadKey(m); key != "" {
		seen := l.counted[conversationID]
		if _, ok := seen[key]; ok {
			return false
		}
		if seen == nil {
			if l.counted == nil {
				l.counted = make(map[string]map[string]struct{})
			}
			seen = make(map[string]struct{})
			l.counted[conversationID] = seen
		}
		seen[key] = struct{}{}
	}
	l.items[i].UnreadCount++
	return true
}

func unreadKey(m Message) string {
	switch {
	case m.ID != "":
		return m.ID
	case m.ClientID != "":
		return "client:" + m.ClientID
	}
	return ""
}

// ResetUnread sets the conversation's unread count to zero.
func (l *ConversationList) ResetUnread(conversationID string) {
	delete(l.counted, conversationID)
	if i := l.index(conversationID); i >= 0 {
		l.items[i].UnreadCount = 0
	}
}

// replace splices the conversation out and reinserts it at its sorted
// position.
func (l *ConversationList) replace(i int, c Conversation) {
	rest := append(clone(l.items[:i]), l.items[i+1:]...)
	l.items = insertSorted(rest, c, conversationKeys.Less)
}

func (l *ConversationList) index(id string) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

func sameMessage(a, b Message) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.ClientID != "" && a.ClientID == b.ClientID
}
