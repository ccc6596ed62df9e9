package livesync

import (
	"maps"
	"time"
)

// ============================================================================
// Message Reconciliation
// ============================================================================

var messageKeys = Keys[Message]{
	ClientKey: func(m Message) string { return m.ClientID },
	Key:       func(m Message) string { return m.ID },
	Less:      func(a, b Message) bool { return a.CreatedAt.Before(b.CreatedAt) },
	Merge:     MergeMessage,
}

// UpsertMessage merges one message into a held window sorted ascending by
// CreatedAt. Placeholders are matched by ClientID before server ids are
// compared, so a send echo replaces its placeholder instead of duplicating it.
// Applying the same message twice yields the same window.
func UpsertMessage(window []Message, incoming Message) []Message {
	return Upsert(window, incoming, messageKeys)
}

// MergePage merges a page of messages into a held window. Pages may arrive in
// any order; the result is sorted.
func MergePage(window []Message, page []Message) []Message {
	return UpsertAll(window, page, messageKeys)
}

// MergeMessage overlays the fields carried by next onto prev. Fields the
// event did not carry keep their held value; in particular a nil MyReaction
// never clears the viewer's local reaction.
func MergeMessage(prev, next Message) Message {
	out := prev
	if next.ID != "" {
		out.ID = next.ID
	}
	if next.ClientID != "" {
		out.ClientID = next.ClientID
	}
	if next.ConversationID != "" {
		out.ConversationID = next.ConversationID
	}
	if next.SenderID != "" {
		out.SenderID = next.SenderID
	}
	if next.Sender != nil {
		out.Sender = next.Sender
	}
	if next.Content != "" {
		out.Content = next.Content
	}
	if next.ReplyToID != "" {
		out.ReplyToID = next.ReplyToID
	}
	if !next.CreatedAt.IsZero() {
		out.CreatedAt = next.CreatedAt
	}
	if next.EditedAt != nil {
		out.EditedAt = next.EditedAt
	}
	if next.Deleted {
		out.Deleted = true
	}
	if next.Attachments != nil {
		out.Attachments = next.Attachments
	}
	if next.ReactionCounts != nil {
		out.ReactionCounts = next.ReactionCounts
	}
	if next.MyReaction != nil {
		out.MyReaction = next.MyReaction
	}

	switch {
	case out.ID != "":
		out.State = MessageConfirmed
	case next.State != "":
		out.State = next.State
	}
	return out
}

// OldestHeldID returns the id of the oldest acknowledged message in a sorted
// window, or "" when no message has an id yet.
func OldestHeldID(window []Message) string {
	for _, m := range window {
		if m.ID != "" {
			return m.ID
		}
	}
	return ""
}

// newestHeld returns the newest acknowledged message in a sorted window.
func newestHeld(window []Message) (Message, bool) {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].ID != "" {
			return window[i], true
		}
	}
	return Message{}, false
}

// findByID returns the held message with the given server id.
func findByID(window []Message, id string) (Message, bool) {
	for _, m := range window {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// overlaps reports whether a freshly fetched newest page shares history with
// the held window. A page entirely newer than everything held means more
// than a page of messages was missed.
func overlaps(window []Message, page []Message) bool {
	newest, ok := newestHeld(window)
	if !ok || len(page) == 0 {
		return true
	}
	var oldest time.Time
	for i, m := range page {
		if m.ID == newest.ID {
			return true
		}
		if i == 0 || m.CreatedAt.Before(oldest) {
			oldest = m.CreatedAt
		}
	}
	return !oldest.After(newest.CreatedAt)
}

// ============================================================================
// Reactions
// ============================================================================

// applyReaction moves the viewer's reaction on m from one emoji to another.
// Either may be empty. Counts never go below zero and the count map is
// copied rather than mutated, since held windows share it with snapshots.
func applyReaction(m Message, from, to string) Message {
	counts := maps.Clone(m.ReactionCounts)
	if counts == nil {
		counts = make(map[string]int)
	}
	if from != "" {
		if n := counts[from] - 1; n > 0 {
			counts[from] = n
		} else {
			delete(counts, from)
		}
	}
	if to != "" {
		counts[to]++
	}
	m.ReactionCounts = counts

	mine := to
	m.MyReaction = &mine
	return m
}

// myReaction returns the viewer's current reaction, or "".
func myReaction(m Message) string {
	if m.MyReaction == nil {
		return ""
	}
	return *m.MyReaction
}
