package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Prismer-AI/Prismer/sdk/livesync"
)

var (
	watchConversation string
	watchMetricsAddr  string
	watchInteractive  bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchConversation, "conversation", "c", "", "Open this conversation and print its messages")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	watchCmd.Flags().BoolVarP(&watchInteractive, "interactive", "i", false, "Read commands and messages from stdin")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the conversation list and one conversation live",
	Long: `Connect to the service and print changes as they arrive.

With --interactive, each stdin line is sent to the open conversation, except:
  /open <conversation-id>   switch conversations
  /older                    load the previous page of history
  /react <message-id> <emoji>
  /list                     print the conversation list
  /quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		var reg *prometheus.Registry
		if watchMetricsAddr != "" {
			reg = prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			srv := serveMetrics(watchMetricsAddr, reg, logger)
			defer srv.Close()
		}

		var r prometheus.Registerer
		if reg != nil {
			r = reg
		}
		engine := livesync.NewEngine(newClient(cfg), newTransport(cfg, logger), engineConfig(cfg, logger, r))
		if err := engine.Start(ctx); err != nil {
			return err
		}
		defer engine.Close()

		if watchConversation != "" {
			if err := engine.OpenConversation(ctx, watchConversation); err != nil {
				fmt.Fprintf(os.Stderr, "open %s: %v\n", watchConversation, err)
			}
		}

		w := &watcher{engine: engine, printed: make(map[string]string)}
		w.printWindow()

		var lines <-chan string
		if watchInteractive {
			lines = readLines(ctx)
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-engine.Events():
				if !ok {
					return nil
				}
				w.handle(ev)
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := w.command(ctx, line); quit {
					return nil
				}
			}
		}
	},
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	return srv
}

func readLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// watcher prints what changed since the last event. printed maps a message
// key to the line last printed for it.
type watcher struct {
	engine  *livesync.Engine
	printed map[string]string
}

func (w *watcher) handle(ev livesync.Event) {
	switch ev.Kind {
	case livesync.EventConnection:
		line := fmt.Sprintf("-- %s", ev.State)
		if ev.Attempt > 0 {
			line += fmt.Sprintf(" (attempt %d)", ev.Attempt)
		}
		if ev.Err != nil {
			line += fmt.Sprintf(": %v", ev.Err)
		}
		fmt.Println(line)
	case livesync.EventRefreshed:
		fmt.Println("-- synced")
		w.printList(5)
		w.printWindow()
	case livesync.EventMessages:
		if ev.ConversationID == w.engine.ActiveConversation() {
			w.printWindow()
		}
	case livesync.EventSendFailed:
		fmt.Printf("-- send failed: %v\n", ev.Err)
		if ev.Message != nil {
			delete(w.printed, messageKey(*ev.Message))
		}
	case livesync.EventConversations:
		if ev.ConversationID != "" && ev.ConversationID != w.engine.ActiveConversation() {
			if c, ok := w.engine.Conversation(ev.ConversationID); ok && c.UnreadCount > 0 {
				fmt.Printf("-- %s\n", formatConversation(c))
			}
		}
	}
}

func (w *watcher) printWindow() {
	id := w.engine.ActiveConversation()
	if id == "" {
		return
	}
	for _, m := range w.engine.Messages(id) {
		line := formatMessage(m)
		key := messageKey(m)
		if w.printed[key] == line {
			continue
		}
		// A confirmed echo replaces the line printed for its placeholder.
		if m.ClientID != "" && m.ID != "" {
			delete(w.printed, "c:"+m.ClientID)
		}
		w.printed[key] = line
		fmt.Println(line)
	}
}

func (w *watcher) printList(limit int) {
	list := w.engine.Conversations()
	if len(list) > limit {
		list = list[:limit]
	}
	for _, c := range list {
		fmt.Printf("   %s\n", formatConversation(c))
	}
}

func messageKey(m livesync.Message) string {
	if m.ID != "" {
		return "i:" + m.ID
	}
	return "c:" + m.ClientID
}

// command runs one interactive line and reports whether to quit.
func (w *watcher) command(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := w.engine.SendMessage(ctx, line); err != nil && !errors.As(err, new(*livesync.SendError)) {
			fmt.Printf("-- %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/list":
		w.printList(50)
	case "/open":
		if len(fields) != 2 {
			fmt.Println("-- usage: /open <conversation-id>")
			return false
		}
		w.printed = make(map[string]string)
		if err := w.engine.OpenConversation(ctx, fields[1]); err != nil {
			fmt.Printf("-- %v\n", err)
		}
		w.printWindow()
	case "/older":
		loaded, err := w.engine.LoadOlder(ctx)
		switch {
		case err != nil:
			fmt.Printf("-- %v\n", err)
		case !loaded:
			fmt.Println("-- no older messages")
		default:
			// Older lines are printed out of order; reprint the window.
			w.printed = make(map[string]string)
			w.printWindow()
		}
	case "/react":
		if len(fields) != 3 {
			fmt.Println("-- usage: /react <message-id> <emoji>")
			return false
		}
		if _, err := w.engine.SelectReaction(ctx, fields[1], fields[2]); err != nil {
			fmt.Printf("-- %v\n", err)
		}
	default:
		fmt.Printf("-- unknown command %s\n", fields[0])
	}
	return false
}
