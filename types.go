package livesync

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Chat Types
// ============================================================================

// MessageState is the local lifecycle state of a held message.
type MessageState string

const (
	MessagePending   MessageState = "pending"
	MessageConfirmed MessageState = "confirmed"
	MessageFailed    MessageState = "failed"
)

// ConversationType distinguishes one-to-one and group conversations.
type ConversationType string

const (
	ConversationDirect ConversationType = "DIRECT"
	ConversationGroup  ConversationType = "GROUP"
)

// ParticipantRole is a member's role within a conversation.
type ParticipantRole string

const (
	RoleOwner     ParticipantRole = "OWNER"
	RoleModerator ParticipantRole = "MODERATOR"
	RoleMember    ParticipantRole = "MEMBER"
)

// UserBrief is the short user profile embedded in messages and participants.
type UserBrief struct {
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Attachment is media carried by a message.
type Attachment struct {
	MediaID      string `json:"mediaId"`
	URL          string `json:"url,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	SizeBytes    int64  `json:"sizeBytes,omitempty"`
}

// Message is one chat message as held in a conversation window.
//
// ID is empty until the server has acknowledged the message. ClientID is
// assigned locally by the sender and survives the placeholder to confirmed
// transition. A nil MyReaction means the event did not carry the viewer's
// reaction and the held value is kept when such an event is merged; a
// pointer to "" means the viewer has no reaction.
type Message struct {
	ID             string         `json:"id,omitempty"`
	ClientID       string         `json:"clientId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	SenderID       string         `json:"senderId,omitempty"`
	Sender         *UserBrief     `json:"sender,omitempty"`
	Content        string         `json:"content,omitempty"`
	ReplyToID      string         `json:"replyToId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	EditedAt       *time.Time     `json:"editedAt,omitempty"`
	Deleted        bool           `json:"deleted,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	ReactionCounts map[string]int `json:"reactions,omitempty"`
	MyReaction     *string        `json:"myReaction,omitempty"`
	State          MessageState   `json:"state,omitempty"`
}

// Pending reports whether the message is still an unacknowledged placeholder.
func (m Message) Pending() bool { return m.ID == "" }

// normalize fills derived fields of a message decoded from the wire.
func (m Message) normalize() Message {
	if m.SenderID == "" && m.Sender != nil {
		m.SenderID = m.Sender.UserID
	}
	if m.ID != "" {
		m.State = MessageConfirmed
	} else if m.State == "" {
		m.State = MessagePending
	}
	return m
}

// Participant is a member of a conversation.
type Participant struct {
	UserID   string          `json:"userId"`
	Role     ParticipantRole `json:"role,omitempty"`
	Nickname string          `json:"nickname,omitempty"`
	JoinedAt time.Time       `json:"joinedAt"`
	User     *UserBrief      `json:"user,omitempty"`
}

// Conversation is one entry of the viewer's conversation list.
type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Title        string           `json:"title,omitempty"`
	AvatarURL    string           `json:"avatarUrl,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	Participants []Participant    `json:"participants,omitempty"`
	LastMessage  *Message         `json:"lastMessage,omitempty"`
	UnreadCount  int              `json:"unreadCount"`
}

// Page is one page of a paged request API response.
type Page[T any] struct {
	Content       []T  `json:"content"`
	Number        int  `json:"number"`
	Size          int  `json:"size"`
	TotalElements int  `json:"totalElements"`
	Last          bool `json:"last"`
}

// InboxEvent is the envelope delivered on the personal chat inbox.
type InboxEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

const inboxNewMessage = "NEW_MESSAGE"

// ============================================================================
// Game Types
// ============================================================================

// GameEvent is the envelope broadcast on a game topic.
type GameEvent struct {
	GameID    string          `json:"gameId"`
	EventType string          `json:"eventType"`
	UserID    string          `json:"userId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// GamePersonalEvent is the envelope delivered on the personal game queue.
type GamePersonalEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GameStatus is the lifecycle state of a game.
type GameStatus string

const (
	GameWaiting    GameStatus = "WAITING"
	GameStarting   GameStatus = "STARTING"
	GameInProgress GameStatus = "IN_PROGRESS"
	GamePaused     GameStatus = "PAUSED"
	GameFinished   GameStatus = "FINISHED"
	GameCancelled  GameStatus = "CANCELLED"
	GameExpired    GameStatus = "EXPIRED"
)

// Ended reports whether no further game events are expected.
func (s GameStatus) Ended() bool {
	return s == GameFinished || s == GameCancelled || s == GameExpired
}

// QuizInfo is the quiz a game is played on.
type QuizInfo struct {
	QuizID        string `json:"quizId"`
	Title         string `json:"title"`
	ThumbnailURL  string `json:"thumbnailUrl,omitempty"`
	QuestionCount int    `json:"questionCount"`
}

// GameDetail is the server's summary of a game.
type GameDetail struct {
	GameID               string     `json:"gameId"`
	PinCode              string     `json:"pinCode,omitempty"`
	Status               GameStatus `json:"gameStatus,omitempty"`
	Quiz                 *QuizInfo  `json:"quiz,omitempty"`
	Host                 *UserBrief `json:"host,omitempty"`
	PlayerCount          int        `json:"playerCount"`
	ActivePlayerCount    int        `json:"activePlayerCount"`
	MaxPlayers           int        `json:"maxPlayers,omitempty"`
	TotalQuestions       int        `json:"totalQuestions"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	TimeLimitSeconds     *int       `json:"timeLimitSeconds,omitempty"`
	StartedAt            *time.Time `json:"startedAt,omitempty"`
	EndedAt              *time.Time `json:"endedAt,omitempty"`
}

// GameParticipant is one player of a game.
type GameParticipant struct {
	ParticipantID string    `json:"participantId"`
	GameID        string    `json:"gameId,omitempty"`
	Nickname      string    `json:"nickname,omitempty"`
	IsAnonymous   bool      `json:"isAnonymous,omitempty"`
	Score         *int      `json:"score,omitempty"`
	Status        string    `json:"status,omitempty"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// LeaderboardEntry is one row of a game leaderboard.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname,omitempty"`
	Score         int    `json:"score"`
	CorrectCount  int    `json:"correctCount"`
}

// AnswerResult is the server's verdict on the viewer's last answer.
type AnswerResult struct {
	Correct        bool   `json:"correct"`
	PointsEarned   int    `json:"pointsEarned"`
	ResponseTimeMs int    `json:"responseTimeMs"`
	CurrentScore   int    `json:"currentScore"`
	CorrectAnswer  string `json:"correctAnswer,omitempty"`
	Explanation    string `json:"explanation,omitempty"`
}
