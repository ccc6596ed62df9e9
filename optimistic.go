package livesync

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ============================================================================
// Optimistic Send
// ============================================================================

// SendMessage shows a pending placeholder in the active conversation at once
// and asks the server to accept the message. Acceptance changes nothing
// locally: the server's echo, matched by client id, confirms the
// placeholder. If the request fails the placeholder is removed, an
// EventSendFailed is emitted, and a *SendError is returned.
//
// The returned message is the placeholder as inserted.
func (e *Engine) SendMessage(ctx context.Context, content string, attachments ...Attachment) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return Message{}, ErrEmptyMessage
	}

	e.mu.Lock()
	id := e.active
	if id == "" {
		e.mu.Unlock()
		return Message{}, ErrNoActiveConversation
	}
	placeholder := Message{
		ClientID:       uuid.NewString(),
		ConversationID: id,
		SenderID:       e.cfg.UserID,
		Content:        content,
		CreatedAt:      e.cfg.Now(),
		Attachments:    attachments,
		State:          MessagePending,
	}
	e.windows[id] = UpsertMessage(e.windows[id], placeholder)
	e.mu.Unlock()
	e.events.emit(Event{Kind: EventMessages, ConversationID: id})

	req := SendMessageRequest{
		ConversationID: id,
		Content:        content,
		ClientID:       placeholder.ClientID,
	}
	for _, a := range attachments {
		req.MediaIDs = append(req.MediaIDs, a.MediaID)
	}

	err := e.api.SendMessage(ctx, e.cfg.UserID, req)
	if err == nil {
		return placeholder, nil
	}

	e.rollbackSend(id, placeholder.ClientID)
	sendErr := &SendError{Op: "send", ClientID: placeholder.ClientID, Err: err}
	failed := placeholder
	failed.State = MessageFailed
	e.logger.Warn("send failed", "conversation_id", id, "client_id", placeholder.ClientID, "err", err)
	e.events.emit(Event{Kind: EventSendFailed, ConversationID: id, Message: &failed, Err: sendErr})
	return failed, sendErr
}

// rollbackSend removes a still-pending placeholder. A placeholder whose echo
// already arrived is confirmed and stays.
func (e *Engine) rollbackSend(conversationID, clientID string) {
	e.mu.Lock()
	w, ok := e.windows[conversationID]
	removed := false
	if ok {
		next := Remove(w, func(m Message) bool { return m.ClientID == clientID && m.ID == "" })
		removed = len(next) != len(w)
		e.windows[conversationID] = next
	}
	e.mu.Unlock()

	if removed {
		e.metrics.rollback()
		e.events.emit(Event{Kind: EventMessages, ConversationID: conversationID})
	}
}

// ============================================================================
// Reactions
// ============================================================================

// SelectReaction toggles the viewer's reaction on a message of the active
// conversation. Selecting the current reaction removes it; selecting another
// replaces it. The viewer holds at most one reaction per message.
//
// The local counts are updated whatever the server answers and are not
// rolled back; the next pushed update of the message carries the server's
// counts. A failed call is still reported as a *SendError.
func (e *Engine) SelectReaction(ctx context.Context, messageID, emoji string) (Message, error) {
	if emoji == "" {
		return Message{}, ErrEmptyReaction
	}
	if messageID == "" {
		return Message{}, ErrMessagePending
	}

	e.reactMu.Lock()
	defer e.reactMu.Unlock()

	e.mu.Lock()
	id := e.active
	if id == "" {
		e.mu.Unlock()
		return Message{}, ErrNoActiveConversation
	}
	m, ok := findByID(e.windows[id], messageID)
	e.mu.Unlock()
	if !ok {
		return Message{}, ErrMessageNotFound
	}

	current := myReaction(m)
	var next string
	var callErr error
	if current == emoji {
		callErr = e.api.RemoveReaction(ctx, messageID, e.cfg.UserID, emoji)
	} else {
		if current != "" {
			// Best effort: the add below is what the viewer asked for.
			if err := e.api.RemoveReaction(ctx, messageID, e.cfg.UserID, current); err != nil {
				e.logger.Debug("remove previous reaction failed", "message_id", messageID, "emoji", current, "err", err)
			}
		}
		callErr = e.api.AddReaction(ctx, messageID, e.cfg.UserID, emoji)
		next = emoji
	}

	e.mu.Lock()
	w := e.windows[id]
	held, ok := findByID(w, messageID)
	if !ok {
		e.mu.Unlock()
		return Message{}, ErrMessageNotFound
	}
	updated := applyReaction(held, myReaction(held), next)
	e.windows[id] = UpsertMessage(w, updated)
	e.mu.Unlock()
	e.events.emit(Event{Kind: EventMessages, ConversationID: id})

	if callErr != nil {
		e.logger.Warn("reaction failed", "message_id", messageID, "emoji", emoji, "err", callErr)
		return updated, &SendError{Op: "react", Err: callErr}
	}
	return updated, nil
}
