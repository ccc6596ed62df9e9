package livesync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Auth   string
	Body   []byte
}

// apiServer answers every request with status and body and records it.
func apiServer(t *testing.T, status int, body string) (*Client, *[]recordedRequest) {
	t.Helper()
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		reqs = append(reqs, recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.Query(),
			Auth:   r.Header.Get("Authorization"),
			Body:   data,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewClient("tok", WithBaseURL(srv.URL+"/")), &reqs
}

func TestClientDefaults(t *testing.T) {
	c := NewClient("")
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)

	c = NewClient("", WithBaseURL("https://x/"), WithTimeout(time.Second))
	assert.Equal(t, "https://x", c.BaseURL())
	assert.Equal(t, time.Second, c.httpClient.Timeout)
}

func TestClientGetMessages(t *testing.T) {
	c, reqs := apiServer(t, 200, `{
		"content": [
			{"id":"9","conversationId":"c1","sender":{"userId":"bob"},"content":"hi","createdAt":"2024-05-01T12:09:00Z","reactions":{"👍":2}},
			{"id":"8","conversationId":"c1","senderId":"me","content":"yo","createdAt":"2024-05-01T12:08:00Z"}
		],
		"number": 0, "size": 30, "last": false
	}`)

	page, err := c.GetMessages(context.Background(), MessageQuery{
		ConversationID:  "c1",
		ViewerID:        "me",
		BeforeMessageID: "10",
		Size:            30,
	})
	require.NoError(t, err)
	require.Len(t, page.Content, 2)
	assert.False(t, page.Last)

	first := page.Content[0]
	assert.Equal(t, "bob", first.SenderID)
	assert.Equal(t, MessageConfirmed, first.State)
	assert.Equal(t, 2, first.ReactionCounts["👍"])
	assert.Nil(t, first.MyReaction)
	assert.Equal(t, at(9), first.CreatedAt)

	r := (*reqs)[0]
	assert.Equal(t, http.MethodGet, r.Method)
	assert.Equal(t, "/api/chat/messages", r.Path)
	assert.Equal(t, "Bearer tok", r.Auth)
	assert.Equal(t, "c1", r.Query.Get("conversationId"))
	assert.Equal(t, "me", r.Query.Get("me"))
	assert.Equal(t, "10", r.Query.Get("beforeMessageId"))
	assert.Equal(t, "30", r.Query.Get("size"))
	assert.Equal(t, "createdAt,desc", r.Query.Get("sort"))
}

func TestClientGetMessagesNewestPageHasNoCursor(t *testing.T) {
	c, reqs := apiServer(t, 200, `{"content":[],"last":true}`)

	_, err := c.GetMessages(context.Background(), MessageQuery{ConversationID: "c1", Size: 5})
	require.NoError(t, err)
	_, ok := (*reqs)[0].Query["beforeMessageId"]
	assert.False(t, ok)
}

func TestClientGetConversationsNormalizesLastMessage(t *testing.T) {
	c, reqs := apiServer(t, 200, `{"content":[
		{"id":"c1","type":"DIRECT","createdAt":"2024-05-01T12:00:00Z","unreadCount":3,
		 "lastMessage":{"id":"4","sender":{"userId":"bob"},"createdAt":"2024-05-01T12:04:00Z"}}
	],"last":true}`)

	page, err := c.GetConversations(context.Background(), "me", 2, 20)
	require.NoError(t, err)
	require.Len(t, page.Content, 1)
	got := page.Content[0]
	assert.Equal(t, 3, got.UnreadCount)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "bob", got.LastMessage.SenderID)

	r := (*reqs)[0]
	assert.Equal(t, "/api/chat/conversations", r.Path)
	assert.Equal(t, "me", r.Query.Get("me"))
	assert.Equal(t, "2", r.Query.Get("page"))
	assert.Equal(t, "20", r.Query.Get("size"))
}

func TestClientSendMessage(t *testing.T) {
	c, reqs := apiServer(t, 202, ``)

	err := c.SendMessage(context.Background(), "me", SendMessageRequest{
		ConversationID: "c1",
		Content:        "hi",
		ClientID:       "cid",
	})
	require.NoError(t, err)

	r := (*reqs)[0]
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "/api/chat/messages", r.Path)
	assert.Equal(t, "me", r.Query.Get("senderId"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(r.Body, &body))
	assert.Equal(t, map[string]any{"conversationId": "c1", "content": "hi", "clientId": "cid"}, body)
}

func TestClientReactionsAndReceipts(t *testing.T) {
	c, reqs := apiServer(t, 200, `{}`)
	ctx := context.Background()

	require.NoError(t, c.AddReaction(ctx, "9", "me", "👍"))
	require.NoError(t, c.RemoveReaction(ctx, "9", "me", "👍"))
	require.NoError(t, c.MarkReadUpTo(ctx, "c1", "9", "me"))

	require.Len(t, *reqs, 3)
	add, remove, read := (*reqs)[0], (*reqs)[1], (*reqs)[2]

	assert.Equal(t, http.MethodPost, add.Method)
	assert.Equal(t, "/api/chat/messages/9/reactions", add.Path)
	assert.Equal(t, "👍", add.Query.Get("emoji"))
	assert.Equal(t, "me", add.Query.Get("userId"))

	assert.Equal(t, http.MethodDelete, remove.Method)
	assert.Equal(t, add.Path, remove.Path)

	assert.Equal(t, "/api/chat/messages/9/read-up-to", read.Path)
	assert.Equal(t, "c1", read.Query.Get("conversationId"))
	assert.Equal(t, "me", read.Query.Get("readerId"))
}

func TestClientGetOrCreateDirect(t *testing.T) {
	c, reqs := apiServer(t, 200, `{"id":"d1","type":"DIRECT","createdAt":"2024-05-01T12:00:00Z","unreadCount":0}`)

	got, err := c.GetOrCreateDirect(context.Background(), "me", "bob")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)
	assert.Equal(t, ConversationDirect, got.Type)

	r := (*reqs)[0]
	assert.Equal(t, "/api/chat/conversations/direct", r.Path)
	assert.Equal(t, "me", r.Query.Get("userA"))
	assert.Equal(t, "bob", r.Query.Get("userB"))
}

func TestClientGameEndpoints(t *testing.T) {
	c, reqs := apiServer(t, 200, `[{"rank":1,"participantId":"p1","nickname":"ann","score":900,"correctCount":3}]`)

	board, err := c.GetLeaderboard(context.Background(), "g/1")
	require.NoError(t, err)
	assert.Equal(t, []LeaderboardEntry{{Rank: 1, ParticipantID: "p1", Nickname: "ann", Score: 900, CorrectCount: 3}}, board)
	assert.Equal(t, "/api/games/g%2F1/leaderboard", (*reqs)[0].Path)
}

func TestClientAPIError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    string
		message string
	}{
		{"json body", 404, `{"code":"NOT_FOUND","message":"no such conversation"}`, "NOT_FOUND", "no such conversation"},
		{"text body", 500, `boom`, "", "boom"},
		{"empty body", 503, ``, "", "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := apiServer(t, tt.status, tt.body)
			_, err := c.GetGameDetails(context.Background(), "g1")

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}
