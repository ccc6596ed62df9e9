// Package livesync keeps a client-side view of a chat service and its live
// game sessions in sync with the server.
//
// State arrives through two channels that race each other: paged fetches
// from the request API and pushed frames on pub/sub subscriptions. The
// engine merges both into the same keyed, ordered lists, so a message seen
// twice is held once, an optimistic placeholder turns into the confirmed
// message when its echo arrives, and a reconnect refetches what the closed
// connection may have missed.
//
// Example:
//
//	api := livesync.NewClient(token, livesync.WithBaseURL("https://chat.example.com"))
//	ws := livesync.NewWSTransport("https://chat.example.com", livesync.WSConfig{Token: token})
//	engine := livesync.NewEngine(api, ws, livesync.Config{UserID: "u1"})
//	engine.Start(ctx)
//	defer engine.Close()
//
//	engine.OpenConversation(ctx, "42")
//	engine.SendMessage(ctx, "hello")
//	for ev := range engine.Events() { ... }
package livesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Request API
// ============================================================================

// MessageQuery selects one page of a conversation's messages, newest first.
// BeforeMessageID, when set, restricts the page to messages strictly older
// than that message.
type MessageQuery struct {
	ConversationID  string
	ViewerID        string
	BeforeMessageID string
	Size            int
}

// SendMessageRequest is the body of a send call. The server acknowledges
// asynchronously and echoes the message, carrying ClientID, on the
// conversation's subscriptions.
type SendMessageRequest struct {
	ConversationID string   `json:"conversationId"`
	Content        string   `json:"content,omitempty"`
	MediaIDs       []string `json:"mediaIds,omitempty"`
	ReplyToID      string   `json:"replyToId,omitempty"`
	ClientID       string   `json:"clientId"`
}

// API is the chat half of the request API.
type API interface {
	GetConversations(ctx context.Context, userID string, page, size int) (*Page[Conversation], error)
	GetMessages(ctx context.Context, q MessageQuery) (*Page[Message], error)
	SendMessage(ctx context.Context, senderID string, req SendMessageRequest) error
	AddReaction(ctx context.Context, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
	MarkReadUpTo(ctx context.Context, conversationID, messageID, readerID string) error
	GetOrCreateDirect(ctx context.Context, userA, userB string) (*Conversation, error)
}

// GameAPI is the game half of the request API.
type GameAPI interface {
	GetGameDetails(ctx context.Context, gameID string) (*GameDetail, error)
	GetParticipants(ctx context.Context, gameID string) ([]GameParticipant, error)
	GetLeaderboard(ctx context.Context, gameID string) ([]LeaderboardEntry, error)
}

// ============================================================================
// Client
// ============================================================================

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 10 * time.Second
)

// Client is the HTTP implementation of API and GameAPI.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

var (
	_ API     = (*Client)(nil)
	_ GameAPI = (*Client)(nil)
)

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a request API client. token is sent as a bearer token
// and may be empty.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	u := c.baseURL + "/api" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Chat Methods
// ============================================================================

func (c *Client) GetConversations(ctx context.Context, userID string, page, size int) (*Page[Conversation], error) {
	q := url.Values{}
	q.Set("me", userID)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	q.Set("sort", "createdAt,desc")
	data, err := c.doRequest(ctx, http.MethodGet, "/chat/conversations", nil, q)
	if err != nil {
		return nil, err
	}
	p, err := decodeJSON[Page[Conversation]](data)
	if err != nil {
		return nil, err
	}
	for i := range p.Content {
		if lm := p.Content[i].LastMessage; lm != nil {
			n := lm.normalize()
			p.Content[i].LastMessage = &n
		}
	}
	return p, nil
}

func (c *Client) GetMessages(ctx context.Context, mq MessageQuery) (*Page[Message], error) {
	q := url.Values{}
	q.Set("conversationId", mq.ConversationID)
	q.Set("me", mq.ViewerID)
	if mq.BeforeMessageID != "" {
		q.Set("beforeMessageId", mq.BeforeMessageID)
	}
	q.Set("page", "0")
	q.Set("size", strconv.Itoa(mq.Size))
	q.Set("sort", "createdAt,desc")
	data, err := c.doRequest(ctx, http.MethodGet, "/chat/messages", nil, q)
	if err != nil {
		return nil, err
	}
	p, err := decodeJSON[Page[Message]](data)
	if err != nil {
		return nil, err
	}
	for i := range p.Content {
		p.Content[i] = p.Content[i].normalize()
	}
	return p, nil
}

func (c *Client) SendMessage(ctx context.Context, senderID string, req SendMessageRequest) error {
	q := url.Values{}
	q.Set("senderId", senderID)
	_, err := c.doRequest(ctx, http.MethodPost, "/chat/messages", req, q)
	return err
}

func (c *Client) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	return c.reaction(ctx, http.MethodPost, messageID, userID, emoji)
}

func (c *Client) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	return c.reaction(ctx, http.MethodDelete, messageID, userID, emoji)
}

func (c *Client) reaction(ctx context.Context, method, messageID, userID, emoji string) error {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("emoji", emoji)
	_, err := c.doRequest(ctx, method, "/chat/messages/"+url.PathEscape(messageID)+"/reactions", nil, q)
	return err
}

func (c *Client) MarkReadUpTo(ctx context.Context, conversationID, messageID, readerID string) error {
	q := url.Values{}
	q.Set("conversationId", conversationID)
	q.Set("readerId", readerID)
	_, err := c.doRequest(ctx, http.MethodPost, "/chat/messages/"+url.PathEscape(messageID)+"/read-up-to", nil, q)
	return err
}

func (c *Client) GetOrCreateDirect(ctx context.Context, userA, userB string) (*Conversation, error) {
	q := url.Values{}
	q.Set("userA", userA)
	q.Set("userB", userB)
	data, err := c.doRequest(ctx, http.MethodPost, "/chat/conversations/direct", nil, q)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// ============================================================================
// Game Methods
// ============================================================================

func (c *Client) GetGameDetails(ctx context.Context, gameID string) (*GameDetail, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/games/"+url.PathEscape(gameID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[GameDetail](data)
}

func (c *Client) GetParticipants(ctx context.Context, gameID string) ([]GameParticipant, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/games/"+url.PathEscape(gameID)+"/participants", nil, nil)
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[[]GameParticipant](data)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

func (c *Client) GetLeaderboard(ctx context.Context, gameID string) ([]LeaderboardEntry, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/games/"+url.PathEscape(gameID)+"/leaderboard", nil, nil)
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[[]LeaderboardEntry](data)
	if err != nil {
		return nil, err
	}
	return *out, nil
}
