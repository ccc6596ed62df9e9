package livesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Format
// ============================================================================

const (
	frameConnected   = "CONNECTED"
	frameMessage     = "MESSAGE"
	frameError       = "ERROR"
	frameSubscribe   = "SUBSCRIBE"
	frameUnsubscribe = "UNSUBSCRIBE"
)

// wireFrame is the JSON envelope exchanged with the pub/sub endpoint.
type wireFrame struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	Subscription string          `json:"subscription,omitempty"`
	Destination  string          `json:"destination,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
	Message      string          `json:"message,omitempty"`
	UserID       string          `json:"userId,omitempty"`
}

// Frame is one message delivered on a subscription.
type Frame struct {
	Subscription string
	Destination  string
	Body         json.RawMessage
}

// ============================================================================
// Transport
// ============================================================================

// Transport opens pub/sub sessions.
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one live connection. Next blocks for the next delivered frame.
// A *MalformedEventError from Next is not fatal; any other error means the
// session is gone.
type Session interface {
	Subscribe(ctx context.Context, destination string) (string, error)
	Unsubscribe(ctx context.Context, id string) error
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// WSConfig configures WSTransport.
type WSConfig struct {
	Token             string
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

func (c *WSConfig) defaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WSTransport dials the pub/sub endpoint over a WebSocket.
type WSTransport struct {
	url    string
	config WSConfig
}

// NewWSTransport creates a transport for the service at baseURL. http and
// https base URLs are mapped to ws and wss.
func NewWSTransport(baseURL string, config WSConfig) *WSTransport {
	config.defaults()
	u := wsURL(baseURL) + "/ws"
	if config.Token != "" {
		u += "?token=" + url.QueryEscape(config.Token)
	}
	return &WSTransport{url: u, config: config}
}

func wsURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

// Dial connects and waits for the server's CONNECTED frame.
func (t *WSTransport) Dial(ctx context.Context) (Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.config.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, t.url, &websocket.DialOptions{HTTPClient: t.config.HTTPClient})
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	_, data, err := conn.Read(dialCtx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, &TransportError{Op: "handshake", Err: err}
	}
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != frameConnected {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, &TransportError{Op: "handshake", Err: fmt.Errorf("expected %s, got %q", frameConnected, f.Type)}
	}

	sessCtx, stop := context.WithCancel(context.Background())
	s := &wsSession{
		conn:   conn,
		logger: t.config.Logger.With("user_id", f.UserID),
		stop:   stop,
	}
	go s.heartbeatLoop(sessCtx, t.config.HeartbeatInterval)
	return s, nil
}

// ============================================================================
// Session
// ============================================================================

type wsSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	stop      context.CancelFunc
	closeOnce sync.Once
}

func (s *wsSession) Subscribe(ctx context.Context, destination string) (string, error) {
	id := "sub-" + ulid.Make().String()
	if err := s.write(ctx, wireFrame{Type: frameSubscribe, ID: id, Destination: destination}); err != nil {
		return "", &TransportError{Op: "subscribe", Err: err}
	}
	return id, nil
}

func (s *wsSession) Unsubscribe(ctx context.Context, id string) error {
	if err := s.write(ctx, wireFrame{Type: frameUnsubscribe, ID: id}); err != nil {
		return &TransportError{Op: "unsubscribe", Err: err}
	}
	return nil
}

func (s *wsSession) Next(ctx context.Context) (Frame, error) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return Frame{}, &TransportError{Op: "read", Err: err}
		}

		var f wireFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return Frame{}, &MalformedEventError{Err: err}
		}
		switch f.Type {
		case frameMessage:
			return Frame{Subscription: f.Subscription, Destination: f.Destination, Body: f.Body}, nil
		case frameError:
			s.logger.Warn("server error frame", "message", f.Message, "destination", f.Destination)
		default:
			s.logger.Debug("ignoring frame", "type", f.Type)
		}
	}
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stop()
		err = s.conn.Close(websocket.StatusNormalClosure, "client close")
	})
	return err
}

func (s *wsSession) write(ctx context.Context, f wireFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// heartbeatLoop pings the server. A failed ping closes the connection, which
// fails the pending Next and hands control to the reconnect loop.
func (s *wsSession) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("heartbeat failed", "err", err)
				s.conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}
