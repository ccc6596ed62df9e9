package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Prismer-AI/Prismer/sdk/livesync"
)

var reactPages int

func init() {
	rootCmd.AddCommand(reactCmd)
	reactCmd.Flags().IntVarP(&reactPages, "pages", "p", 3, "How many pages of history to search for the message")
}

var reactCmd = &cobra.Command{
	Use:   "react <conversation-id> <message-id> <emoji>",
	Short: "Toggle your reaction on a message",
	Long:  "Select a reaction on a message. Selecting your current reaction removes it; selecting another replaces it.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		engine := livesync.NewEngine(newClient(cfg), newTransport(cfg, logger), engineConfig(cfg, logger, nil))
		defer engine.Close()

		conversationID, messageID, emoji := args[0], args[1], args[2]
		if err := engine.OpenConversation(ctx, conversationID); err != nil {
			return err
		}

		for page := 1; ; page++ {
			m, err := engine.SelectReaction(ctx, messageID, emoji)
			if err == nil {
				fmt.Println(formatMessage(m))
				return nil
			}
			if !errors.Is(err, livesync.ErrMessageNotFound) || page >= reactPages {
				var sendErr *livesync.SendError
				if errors.As(err, &sendErr) {
					fmt.Println(formatMessage(m))
				}
				return err
			}
			loaded, err := engine.LoadOlder(ctx)
			if err != nil {
				return err
			}
			if !loaded {
				return fmt.Errorf("message %s: %w", messageID, livesync.ErrMessageNotFound)
			}
		}
	},
}
