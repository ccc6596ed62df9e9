package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Game event types broadcast on a game topic.
const (
	GameEventStarting          = "GAME_STARTING"
	GameEventStarted           = "GAME_STARTED"
	GameEventPaused            = "GAME_PAUSED"
	GameEventResumed           = "GAME_RESUMED"
	GameEventEnded             = "GAME_ENDED"
	GameEventAutoEnded         = "GAME_AUTO_ENDED"
	GameEventCancelled         = "GAME_CANCELLED"
	GameEventStartFailed       = "GAME_START_FAILED"
	GameEventParticipantJoined = "PARTICIPANT_JOINED"
	GameEventParticipantLeft   = "PARTICIPANT_LEFT"
	GameEventParticipantKicked = "PARTICIPANT_KICKED"
	GameEventQuestionStarted   = "QUESTION_STARTED"
	GameEventQuestionEnded     = "QUESTION_ENDED"
)

// Personal game queue event types.
const (
	GamePersonalAnswerResult = "ANSWER_RESULT"
	GamePersonalKicked       = "KICKED"
	GamePersonalLeaderboard  = "LEADERBOARD"
	GamePersonalParticipants = "PARTICIPANTS"
	GamePersonalDetails      = "GAME_DETAILS"
)

var participantKeys = Keys[GameParticipant]{
	Key: func(p GameParticipant) string { return p.ParticipantID },
	Less: func(a, b GameParticipant) bool {
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ParticipantID < b.ParticipantID
	},
	Merge: mergeParticipant,
}

var leaderboardKeys = Keys[LeaderboardEntry]{
	Key: func(l LeaderboardEntry) string { return l.ParticipantID },
	Less: func(a, b LeaderboardEntry) bool {
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.ParticipantID < b.ParticipantID
	},
}

func mergeParticipant(prev, next GameParticipant) GameParticipant {
	out := prev
	if next.GameID != "" {
		out.GameID = next.GameID
	}
	if next.Nickname != "" {
		out.Nickname = next.Nickname
	}
	if next.IsAnonymous {
		out.IsAnonymous = true
	}
	if next.Score != nil {
		out.Score = next.Score
	}
	if next.Status != "" {
		out.Status = next.Status
	}
	if !next.JoinedAt.IsZero() {
		out.JoinedAt = next.JoinedAt
	}
	return out
}

// GameState is a snapshot of a game as seen by one participant or host.
type GameState struct {
	Detail       GameDetail
	Participants []GameParticipant
	Leaderboard  []LeaderboardEntry

	// Question is the current question as sent by the server, or nil
	// between questions.
	Question   json.RawMessage
	LastAnswer *AnswerResult
	Kicked     bool
	EndReason  string
}

// GameSessionConfig identifies the game and the viewer's seat in it.
type GameSessionConfig struct {
	Config

	GameID string
	// ParticipantID is the viewer's participant, empty for the host.
	ParticipantID string
}

// GameSession keeps one game's participants, leaderboard and status in sync
// while the game screen is open. It shares the keyed-list reconciliation and
// reconnect behavior of Engine.
type GameSession struct {
	api           GameAPI
	gameID        string
	participantID string
	logger        *slog.Logger
	metrics       *Metrics
	subs          *subscriptionManager
	events        *eventStream
	life          lifecycle

	mu    sync.Mutex
	state GameState
}

// NewGameSession creates a session for cfg.GameID. Nothing is connected
// until Start is called.
func NewGameSession(api GameAPI, transport Transport, cfg GameSessionConfig) *GameSession {
	cfg.defaults()
	g := &GameSession{
		api:           api,
		gameID:        cfg.GameID,
		participantID: cfg.ParticipantID,
		logger:        cfg.Logger.With("game_id", cfg.GameID),
		metrics:       cfg.Metrics,
		events:        newEventStream(cfg.EventBuffer, cfg.Metrics),
		state:         GameState{Detail: GameDetail{GameID: cfg.GameID}},
	}
	g.life.init()
	g.subs = newSubscriptionManager(transport, subscriptionHooks{
		inbox:       GameInboxDestination,
		onInbox:     g.handlePersonal,
		onTopic:     g.handleTopic,
		onConnected: g.handleConnected,
		onState:     g.handleState,
	}, cfg.ReconnectDelay, g.logger, cfg.Metrics)
	// The topic is fixed for the session's lifetime and subscribed on connect.
	g.subs.topic = GameTopic(cfg.GameID)
	return g
}

// Start connects in the background. Every connect refetches the game's
// details, participants and leaderboard.
func (g *GameSession) Start(ctx context.Context) error {
	return g.life.start(ctx, g.subs.run)
}

// Close disconnects and closes the Events channel.
func (g *GameSession) Close() error {
	if g.life.close() {
		g.events.close()
	}
	return nil
}

// Events returns the change notification channel.
func (g *GameSession) Events() <-chan Event { return g.events.ch }

// ConnectionState returns the current pub/sub connection state.
func (g *GameSession) ConnectionState() ConnState { return g.subs.State() }

// State returns a snapshot of the game.
func (g *GameSession) State() GameState {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state
	s.Participants = clone(g.state.Participants)
	s.Leaderboard = clone(g.state.Leaderboard)
	return s
}

// Refresh refetches the game from the request API and merges it into the
// held state.
func (g *GameSession) Refresh(ctx context.Context) error {
	detail, err := g.api.GetGameDetails(ctx, g.gameID)
	if err != nil {
		return fmt.Errorf("get game details: %w", err)
	}
	participants, err := g.api.GetParticipants(ctx, g.gameID)
	if err != nil {
		return fmt.Errorf("get participants: %w", err)
	}
	leaderboard, err := g.api.GetLeaderboard(ctx, g.gameID)
	if err != nil {
		return fmt.Errorf("get leaderboard: %w", err)
	}

	g.mu.Lock()
	g.state.Detail = *detail
	// Participants are never removed, only marked LEFT or KICKED, so the
	// fetched list merges in and a join pushed during the fetch survives.
	// The leaderboard is always a whole ranking and is replaced.
	g.state.Participants = UpsertAll(g.state.Participants, participants, participantKeys)
	g.state.Leaderboard = UpsertAll(nil, leaderboard, leaderboardKeys)
	g.mu.Unlock()

	g.events.emit(Event{Kind: EventRefreshed, GameID: g.gameID})
	return nil
}

func (g *GameSession) handleConnected(context.Context) {
	g.life.goAsync(func(ctx context.Context) {
		if err := g.Refresh(ctx); err != nil {
			g.logger.Warn("refresh game failed", "err", err)
		}
	})
}

func (g *GameSession) handleState(state ConnState, attempt int, err error) {
	g.events.emit(Event{Kind: EventConnection, GameID: g.gameID, State: state, Attempt: attempt, Err: err})
}

// handleTopic applies a broadcast game event.
func (g *GameSession) handleTopic(f Frame) {
	var ev GameEvent
	if err := json.Unmarshal(f.Body, &ev); err != nil {
		g.dropMalformed(f, err)
		return
	}
	if ev.GameID != "" && ev.GameID != g.gameID {
		g.logger.Debug("dropping event for another game", "event_game_id", ev.GameID)
		return
	}
	if err := g.apply(ev); err != nil {
		g.dropMalformed(f, err)
		return
	}
	g.events.emit(Event{Kind: EventGame, GameID: g.gameID})
}

func (g *GameSession) apply(ev GameEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := &g.state

	switch ev.EventType {
	case GameEventStarting:
		s.Detail.Status = GameStarting
	case GameEventStarted, GameEventResumed:
		s.Detail.Status = GameInProgress
	case GameEventPaused:
		s.Detail.Status = GamePaused
	case GameEventEnded, GameEventAutoEnded:
		s.Detail.Status = GameFinished
		s.Question = nil
		s.EndReason = endReason(ev)
	case GameEventCancelled, GameEventStartFailed:
		s.Detail.Status = GameCancelled
		s.Question = nil
		s.EndReason = endReason(ev)

	case GameEventParticipantJoined:
		var p GameParticipant
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		if p.ParticipantID == "" {
			return errors.New("participant event without participantId")
		}
		if p.Status == "" {
			p.Status = "JOINED"
		}
		s.Participants = Upsert(s.Participants, p, participantKeys)
	case GameEventParticipantLeft, GameEventParticipantKicked:
		var p GameParticipant
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		if p.ParticipantID == "" {
			return errors.New("participant event without participantId")
		}
		p.Status = "LEFT"
		if ev.EventType == GameEventParticipantKicked {
			p.Status = "KICKED"
			if p.ParticipantID == g.participantID {
				s.Kicked = true
			}
		}
		s.Participants = Upsert(s.Participants, p, participantKeys)

	case GameEventQuestionStarted:
		var d struct {
			Question      json.RawMessage `json:"question"`
			QuestionIndex *int            `json:"questionIndex"`
		}
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		s.Question = d.Question
		s.LastAnswer = nil
		if d.QuestionIndex != nil {
			s.Detail.CurrentQuestionIndex = *d.QuestionIndex
		}
		s.Detail.Status = GameInProgress
	case GameEventQuestionEnded:
		var d struct {
			Leaderboard []LeaderboardEntry `json:"leaderboard"`
		}
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		s.Question = nil
		if d.Leaderboard != nil {
			s.Leaderboard = UpsertAll(nil, d.Leaderboard, leaderboardKeys)
		}

	default:
		g.logger.Debug("ignoring game event", "type", ev.EventType)
	}
	return nil
}

func endReason(ev GameEvent) string {
	var d struct {
		Reason string `json:"reason"`
	}
	if len(ev.Data) > 0 && json.Unmarshal(ev.Data, &d) == nil && d.Reason != "" {
		return d.Reason
	}
	return ev.EventType
}

// handlePersonal applies an event from the viewer's personal game queue.
func (g *GameSession) handlePersonal(f Frame) {
	var ev GamePersonalEvent
	if err := json.Unmarshal(f.Body, &ev); err != nil {
		g.dropMalformed(f, err)
		return
	}

	var err error
	g.mu.Lock()
	s := &g.state
	switch ev.Type {
	case GamePersonalAnswerResult:
		var r AnswerResult
		if err = json.Unmarshal(ev.Payload, &r); err == nil {
			s.LastAnswer = &r
		}
	case GamePersonalKicked:
		s.Kicked = true
	case GamePersonalLeaderboard:
		var rows []LeaderboardEntry
		if err = json.Unmarshal(ev.Payload, &rows); err == nil {
			s.Leaderboard = UpsertAll(nil, rows, leaderboardKeys)
		}
	case GamePersonalParticipants:
		var ps []GameParticipant
		if err = json.Unmarshal(ev.Payload, &ps); err == nil {
			s.Participants = UpsertAll(s.Participants, ps, participantKeys)
		}
	case GamePersonalDetails:
		var d GameDetail
		if err = json.Unmarshal(ev.Payload, &d); err == nil {
			s.Detail = d
		}
	default:
		g.logger.Debug("ignoring personal game event", "type", ev.Type)
	}
	g.mu.Unlock()

	if err != nil {
		g.dropMalformed(f, err)
		return
	}
	g.events.emit(Event{Kind: EventGame, GameID: g.gameID})
}

func (g *GameSession) dropMalformed(f Frame, err error) {
	g.metrics.malformedFrame()
	g.logger.Warn("dropping malformed event", "err", &MalformedEventError{Destination: f.Destination, Err: err})
}
