package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Prismer-AI/Prismer/sdk/livesync"
)

var (
	historyPages int
	historyJSON  bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyPages, "pages", "p", 1, "Number of pages to load, newest first")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output JSON")
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print a conversation's message history",
	Long:  "Load the newest pages of a conversation through the sync engine and print them oldest first.\nOpening the conversation marks it read up to its newest message.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		// History needs no live connection; the engine is never started.
		engine := livesync.NewEngine(newClient(cfg), newTransport(cfg, logger), engineConfig(cfg, logger, nil))
		defer engine.Close()

		id := args[0]
		if err := engine.OpenConversation(ctx, id); err != nil {
			return err
		}
		for page := 1; page < historyPages; page++ {
			loaded, err := engine.LoadOlder(ctx)
			if err != nil {
				return err
			}
			if !loaded {
				break
			}
		}

		window := engine.Messages(id)
		cur, _ := engine.Cursor(id)

		if historyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Messages []livesync.Message `json:"messages"`
				HasMore  bool               `json:"hasMore"`
			}{window, cur.HasMore})
		}

		if len(window) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		if cur.HasMore {
			fmt.Printf("(older messages before %s; use --pages to load more)\n", cur.OldestHeldID)
		}
		for _, m := range window {
			fmt.Println(formatMessage(m))
		}
		return nil
	},
}
