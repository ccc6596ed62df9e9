package livesync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ConnState is the state of the pub/sub connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ============================================================================
// Reconnector
// ============================================================================

// reconnector hands out the fixed backoff between connection attempts and
// counts consecutive failures since the last successful connect.
type reconnector struct {
	delay   time.Duration
	attempt int
}

func (r *reconnector) markConnected() { r.attempt = 0 }

func (r *reconnector) nextDelay() time.Duration {
	r.attempt++
	return r.delay
}

// ============================================================================
// Subscription Manager
// ============================================================================

type subscriptionHooks struct {
	// inbox is the personal destination subscribed on every connect.
	inbox string

	onInbox func(Frame)
	onTopic func(Frame)

	// onConnected runs after the inbox and topic are subscribed. It must not
	// block the read loop.
	onConnected func(ctx context.Context)
	onState     func(state ConnState, attempt int, err error)
}

// subscriptionManager owns one connection at a time and keeps the personal
// inbox and at most one topic subscribed across reconnects. Subscription
// handles are dropped with the connection; nothing is buffered while
// disconnected.
type subscriptionManager struct {
	transport Transport
	hooks     subscriptionHooks
	recon     *reconnector
	logger    *slog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	state   ConnState
	session Session
	inboxID string
	topicID string
	topic   string

	// subMu serializes subscribe and unsubscribe sequences so a topic switch
	// racing a reconnect never leaves two topic subscriptions.
	subMu sync.Mutex
}

func newSubscriptionManager(t Transport, hooks subscriptionHooks, delay time.Duration, logger *slog.Logger, m *Metrics) *subscriptionManager {
	return &subscriptionManager{
		transport: t,
		hooks:     hooks,
		recon:     &reconnector{delay: delay},
		logger:    logger,
		metrics:   m,
		state:     StateDisconnected,
	}
}

// State returns the current connection state.
func (s *subscriptionManager) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Topic returns the destination of the desired topic subscription.
func (s *subscriptionManager) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

// run connects, serves and reconnects until ctx is done.
func (s *subscriptionManager) run(ctx context.Context) {
	for {
		s.setState(StateConnecting, nil)
		sess, err := s.transport.Dial(ctx)
		if err == nil {
			s.recon.markConnected()
			err = s.serve(ctx, sess)
		}
		s.setState(StateDisconnected, err)
		if ctx.Err() != nil {
			return
		}

		delay := s.recon.nextDelay()
		s.logger.Info("connection lost, retrying", "attempt", s.recon.attempt, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		s.metrics.reconnect()
	}
}

func (s *subscriptionManager) serve(ctx context.Context, sess Session) error {
	if err := s.attach(ctx, sess); err != nil {
		sess.Close()
		s.detach()
		return err
	}
	if s.hooks.onConnected != nil {
		s.hooks.onConnected(ctx)
	}

	for {
		f, err := sess.Next(ctx)
		if err != nil {
			var malformed *MalformedEventError
			if errors.As(err, &malformed) {
				s.logger.Warn("dropping malformed frame", "err", err)
				s.metrics.malformedFrame()
				continue
			}
			sess.Close()
			s.detach()
			return err
		}
		s.route(f)
	}
}

// attach records the session, enters the connected state and subscribes the
// inbox and the current topic.
func (s *subscriptionManager) attach(ctx context.Context, sess Session) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	s.session = sess
	topic := s.topic
	s.mu.Unlock()
	s.setState(StateConnected, nil)

	inboxID, err := sess.Subscribe(ctx, s.hooks.inbox)
	if err != nil {
		return err
	}
	var topicID string
	if topic != "" {
		if topicID, err = sess.Subscribe(ctx, topic); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.inboxID = inboxID
	s.topicID = topicID
	s.mu.Unlock()
	s.logger.Debug("subscribed", "inbox", s.hooks.inbox, "topic", topic)
	return nil
}

func (s *subscriptionManager) detach() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	s.session = nil
	s.inboxID = ""
	s.topicID = ""
	s.mu.Unlock()
}

// SetTopic replaces the topic subscription. An empty destination only
// unsubscribes. While disconnected the destination is remembered and
// subscribed on the next connect.
func (s *subscriptionManager) SetTopic(ctx context.Context, destination string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	sess := s.session
	oldID := s.topicID
	same := s.topic == destination
	s.topic = destination
	s.mu.Unlock()

	if sess == nil || (same && (oldID != "" || destination == "")) {
		return nil
	}

	if oldID != "" {
		if err := sess.Unsubscribe(ctx, oldID); err != nil {
			s.logger.Warn("unsubscribe failed", "subscription", oldID, "err", err)
		}
		s.mu.Lock()
		s.topicID = ""
		s.mu.Unlock()
	}
	if destination == "" {
		return nil
	}

	id, err := sess.Subscribe(ctx, destination)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.session == sess {
		s.topicID = id
	}
	s.mu.Unlock()
	return nil
}

func (s *subscriptionManager) route(f Frame) {
	s.mu.Lock()
	inboxID, topicID, topic := s.inboxID, s.topicID, s.topic
	s.mu.Unlock()

	switch {
	case matches(f, inboxID, s.hooks.inbox):
		s.metrics.frame("inbox")
		if s.hooks.onInbox != nil {
			s.hooks.onInbox(f)
		}
	case topicID != "" && matches(f, topicID, topic):
		s.metrics.frame("topic")
		if s.hooks.onTopic != nil {
			s.hooks.onTopic(f)
		}
	default:
		s.logger.Debug("dropping frame for stale subscription",
			"subscription", f.Subscription, "destination", f.Destination)
	}
}

func matches(f Frame, id, destination string) bool {
	if f.Subscription != "" {
		return f.Subscription == id
	}
	return destination != "" && f.Destination == destination
}

func (s *subscriptionManager) setState(state ConnState, err error) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.metrics.state(state)
	s.logger.Debug("connection state", "state", state, "attempt", s.recon.attempt)
	if s.hooks.onState != nil {
		s.hooks.onState(state, s.recon.attempt, err)
	}
}
