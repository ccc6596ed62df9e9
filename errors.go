package livesync

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveConversation = errors.New("livesync: no active conversation")
	ErrEmptyMessage         = errors.New("livesync: message content is empty")
	ErrEmptyReaction        = errors.New("livesync: empty reaction")
	ErrMessageNotFound      = errors.New("livesync: message not held in the active window")
	ErrMessagePending       = errors.New("livesync: message is not acknowledged yet")
	ErrClosed               = errors.New("livesync: engine closed")
)

// APIError is returned by Client for non-2xx responses of the request API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// TransportError reports a dropped connection or a failed subscribe. It is
// never surfaced to callers as a failure; it drives the reconnect loop and
// appears on connection events.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "transport " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// SendError reports that the request API rejected a send or reaction call.
type SendError struct {
	Op       string
	ClientID string
	Err      error
}

func (e *SendError) Error() string {
	if e.ClientID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ClientID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// PageLoadError reports a failed page fetch. The cursor is left unchanged, so
// the same call can be retried.
type PageLoadError struct {
	ConversationID string
	Before         string
	Err            error
}

func (e *PageLoadError) Error() string {
	if e.Before == "" {
		return fmt.Sprintf("load page of %s: %v", e.ConversationID, e.Err)
	}
	return fmt.Sprintf("load page of %s before %s: %v", e.ConversationID, e.Before, e.Err)
}

func (e *PageLoadError) Unwrap() error { return e.Err }

// Retryable is always true; a failed page load never advances the cursor.
func (e *PageLoadError) Retryable() bool { return true }

// MalformedEventError reports a frame that could not be decoded. Such frames
// are logged and dropped.
type MalformedEventError struct {
	Destination string
	Err         error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event on %q: %v", e.Destination, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }
