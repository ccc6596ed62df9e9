package livesync

import (
	"log/slog"
	"time"
)

const (
	DefaultPageSize             = 30
	DefaultConversationPageSize = 20
	DefaultReconnectDelay       = 2 * time.Second
	DefaultEventBuffer          = 256

	// InboxDestination is the viewer's personal chat queue.
	InboxDestination = "/user/queue/inbox"
	// GameInboxDestination is the viewer's personal game queue.
	GameInboxDestination = "/user/queue/game"
)

// ConversationTopic returns the broadcast destination of one conversation.
func ConversationTopic(conversationID string) string {
	return "/topic/conv." + conversationID
}

// GameTopic returns the broadcast destination of one game.
func GameTopic(gameID string) string {
	return "/topic/game/" + gameID
}

// Config configures an Engine or a GameSession.
type Config struct {
	// UserID is the viewer. Required.
	UserID string

	PageSize             int
	ConversationPageSize int

	// ReconnectDelay is the fixed wait between connection attempts.
	ReconnectDelay time.Duration

	// EventBuffer bounds the Events channel. Notifications that do not fit
	// are dropped.
	EventBuffer int

	Logger  *slog.Logger
	Metrics *Metrics

	// Now stamps optimistic placeholders. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ConversationPageSize <= 0 {
		c.ConversationPageSize = DefaultConversationPageSize
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
