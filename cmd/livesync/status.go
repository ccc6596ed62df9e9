package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Prismer-AI/Prismer/sdk/livesync"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and service reachability",
	Long:  "Display the effective configuration, then check the request API and the pub/sub endpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:        %s\n", cfg.Default.BaseURL)
		fmt.Printf("  User ID:         %s\n", cfg.Default.UserID)
		fmt.Printf("  Token:           %s\n", valueOrDefault(maskKey(cfg.Default.Token), "(not set)"))
		fmt.Printf("  Page size:       %d\n", orDefault(cfg.Sync.PageSize, livesync.DefaultPageSize))
		fmt.Printf("  Reconnect delay: %s\n", parseDuration(cfg.Sync.ReconnectDelay, livesync.DefaultReconnectDelay))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")

		client := newClient(cfg)
		start := time.Now()
		page, err := client.GetConversations(ctx, cfg.Default.UserID, 0, livesync.DefaultConversationPageSize)
		if err != nil {
			var apiErr *livesync.APIError
			if errors.As(err, &apiErr) {
				fmt.Printf("  Request API:     error %d: %s\n", apiErr.Status, apiErr.Message)
			} else {
				fmt.Printf("  Request API:     unreachable: %v\n", err)
			}
		} else {
			unread := 0
			for _, c := range page.Content {
				unread += c.UnreadCount
			}
			fmt.Printf("  Request API:     ok (%s)\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("  Conversations:   %s\n", humanize.Comma(int64(page.TotalElements)))
			fmt.Printf("  Unread (page 1): %s\n", humanize.Comma(int64(unread)))
		}

		start = time.Now()
		sess, err := newTransport(cfg, logger).Dial(ctx)
		if err != nil {
			fmt.Printf("  Pub/sub:         %v\n", err)
			return nil
		}
		sess.Close()
		fmt.Printf("  Pub/sub:         connected (%s)\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
