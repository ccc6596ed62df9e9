package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Prismer-AI/Prismer/sdk/livesync"
)

var sendWait time.Duration

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendWait, "wait", 10*time.Second, "How long to wait for the server's echo (0 to not wait)")
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message and wait for it to be confirmed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		engine := livesync.NewEngine(newClient(cfg), newTransport(cfg, logger), engineConfig(cfg, logger, nil))
		if err := engine.Start(ctx); err != nil {
			return err
		}
		defer engine.Close()

		id := args[0]
		if err := engine.OpenConversation(ctx, id); err != nil {
			return err
		}
		if sendWait > 0 {
			// The echo only arrives on a live topic subscription.
			if err := waitConnected(ctx, engine, sendWait); err != nil {
				return err
			}
		}

		placeholder, err := engine.SendMessage(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if sendWait <= 0 {
			fmt.Printf("Sent (client id %s)\n", placeholder.ClientID)
			return nil
		}

		m, err := waitConfirmed(ctx, engine, id, placeholder.ClientID, sendWait)
		if err != nil {
			return err
		}
		fmt.Println(formatMessage(m))
		return nil
	},
}

func waitConnected(ctx context.Context, engine *livesync.Engine, timeout time.Duration) error {
	deadline := time.After(timeout)
	for engine.ConnectionState() != livesync.StateConnected {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.New("timed out waiting for the pub/sub connection")
		case <-engine.Events():
		}
	}
	return nil
}

// waitConfirmed waits until the placeholder with clientID has been replaced
// by the server's echo.
func waitConfirmed(ctx context.Context, engine *livesync.Engine, conversationID, clientID string, timeout time.Duration) (livesync.Message, error) {
	deadline := time.After(timeout)
	for {
		for _, m := range engine.Messages(conversationID) {
			if m.ClientID == clientID && m.ID != "" {
				return m, nil
			}
		}
		select {
		case <-ctx.Done():
			return livesync.Message{}, ctx.Err()
		case <-deadline:
			return livesync.Message{}, fmt.Errorf("accepted but not confirmed within %s (client id %s)", timeout, clientID)
		case ev, ok := <-engine.Events():
			if !ok {
				return livesync.Message{}, livesync.ErrClosed
			}
			if ev.Kind == livesync.EventSendFailed && ev.Message != nil && ev.Message.ClientID == clientID {
				return livesync.Message{}, ev.Err
			}
		}
	}
}
