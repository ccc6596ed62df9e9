package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Prismer-AI/Prismer/sdk/livesync"
)

// loadEffectiveConfig loads the config file, applies LIVESYNC_* overrides and
// the persistent log flags, and checks that a viewer is configured.
func loadEffectiveConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyEnv(cfg)
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if cfg.Default.UserID == "" {
		return nil, errors.New("no user id configured. Run 'livesync init <base-url> <user-id>' first")
	}
	if cfg.Default.BaseURL == "" {
		cfg.Default.BaseURL = livesync.DefaultBaseURL
	}
	return cfg, nil
}

// newLogger builds a structured logger writing to w. Unknown levels fall back
// to warn so command output stays readable.
func newLogger(level, format string, w io.Writer) *slog.Logger {
	lvl := slog.LevelWarn

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func newClient(cfg *Config) *livesync.Client {
	return livesync.NewClient(cfg.Default.Token, livesync.WithBaseURL(cfg.Default.BaseURL))
}

func newTransport(cfg *Config, logger *slog.Logger) *livesync.WSTransport {
	return livesync.NewWSTransport(cfg.Default.BaseURL, livesync.WSConfig{
		Token:             cfg.Default.Token,
		HeartbeatInterval: parseDuration(cfg.Sync.HeartbeatInterval, 0),
		Logger:            logger,
	})
}

// engineConfig maps the CLI config onto the library's. reg may be nil.
func engineConfig(cfg *Config, logger *slog.Logger, reg prometheus.Registerer) livesync.Config {
	c := livesync.Config{
		UserID:         cfg.Default.UserID,
		PageSize:       cfg.Sync.PageSize,
		ReconnectDelay: parseDuration(cfg.Sync.ReconnectDelay, 0),
		Logger:         logger,
	}
	if reg != nil {
		c.Metrics = livesync.NewMetrics(reg)
	}
	return c
}

// setup is the common preamble of the commands that talk to the service.
func setup() (*Config, *slog.Logger, error) {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ============================================================================
// Output
// ============================================================================

func senderName(m livesync.Message) string {
	if m.Sender != nil {
		if m.Sender.Name != "" {
			return m.Sender.Name
		}
		if m.Sender.Username != "" {
			return m.Sender.Username
		}
	}
	if m.SenderID != "" {
		return m.SenderID
	}
	return "?"
}

// formatMessage renders one message line:
//
//	[42] 3 minutes ago  alice: hello  (👍 2, ❤️ 1)
func formatMessage(m livesync.Message) string {
	var b strings.Builder
	id := m.ID
	if id == "" {
		id = "…"
	}
	fmt.Fprintf(&b, "[%s] %s  %s: ", id, humanize.Time(m.CreatedAt), senderName(m))
	switch {
	case m.Deleted:
		b.WriteString("(deleted)")
	case m.Content == "" && len(m.Attachments) > 0:
		fmt.Fprintf(&b, "(%d attachment(s))", len(m.Attachments))
	default:
		b.WriteString(m.Content)
	}
	if r := formatReactions(m); r != "" {
		b.WriteString("  (" + r + ")")
	}
	switch m.State {
	case livesync.MessagePending:
		b.WriteString("  [sending]")
	case livesync.MessageFailed:
		b.WriteString("  [failed]")
	}
	return b.String()
}

// formatReactions lists reaction counts by emoji, marking the viewer's own.
func formatReactions(m livesync.Message) string {
	if len(m.ReactionCounts) == 0 {
		return ""
	}
	emojis := make([]string, 0, len(m.ReactionCounts))
	for e := range m.ReactionCounts {
		emojis = append(emojis, e)
	}
	sort.Strings(emojis)

	mine := ""
	if m.MyReaction != nil {
		mine = *m.MyReaction
	}
	parts := make([]string, 0, len(emojis))
	for _, e := range emojis {
		p := fmt.Sprintf("%s %s", e, humanize.Comma(int64(m.ReactionCounts[e])))
		if e == mine {
			p += "*"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}

func formatConversation(c livesync.Conversation) string {
	title := c.Title
	if title == "" {
		title = c.ID
	}
	line := fmt.Sprintf("%-24s %-6s", title, c.Type)
	if c.UnreadCount > 0 {
		line += fmt.Sprintf(" %s unread", humanize.Comma(int64(c.UnreadCount)))
	}
	if m := c.LastMessage; m != nil {
		line += fmt.Sprintf("  last %s: %s", humanize.Time(m.CreatedAt), truncate(m.Content, 40))
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// maskKey shows the first 4 and last 4 characters of a secret.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
