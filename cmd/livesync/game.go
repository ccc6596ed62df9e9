package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Prismer-AI/Prismer/sdk/livesync"
)

var gameParticipant string

func init() {
	rootCmd.AddCommand(gameCmd)
	gameCmd.AddCommand(gameWatchCmd)
	gameWatchCmd.Flags().StringVar(&gameParticipant, "participant", "", "Your participant id (omit when hosting)")
}

var gameCmd = &cobra.Command{
	Use:   "game",
	Short: "Live game commands",
}

var gameWatchCmd = &cobra.Command{
	Use:   "watch <game-id>",
	Short: "Follow a game's status, players and leaderboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		session := livesync.NewGameSession(newClient(cfg), newTransport(cfg, logger), livesync.GameSessionConfig{
			Config:        engineConfig(cfg, logger, nil),
			GameID:        args[0],
			ParticipantID: gameParticipant,
		})
		if err := session.Start(ctx); err != nil {
			return err
		}
		defer session.Close()

		var last string
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-session.Events():
				if !ok {
					return nil
				}
				if ev.Kind == livesync.EventConnection {
					fmt.Printf("-- %s\n", ev.State)
					continue
				}
				state := session.State()
				if out := formatGame(state); out != last {
					fmt.Println(out)
					last = out
				}
				if state.Kicked {
					fmt.Println("-- you were removed from the game")
					return nil
				}
				if state.Detail.Status.Ended() {
					fmt.Printf("-- game over: %s\n", state.EndReason)
					return nil
				}
			}
		}
	},
}

func formatGame(s livesync.GameState) string {
	var b strings.Builder
	d := s.Detail
	title := d.GameID
	if d.Quiz != nil && d.Quiz.Title != "" {
		title = d.Quiz.Title
	}
	fmt.Fprintf(&b, "== %s  %s  %s players", title, valueOrDefault(string(d.Status), "?"), humanize.Comma(int64(len(s.Participants))))
	if d.TotalQuestions > 0 {
		fmt.Fprintf(&b, "  question %d/%d", d.CurrentQuestionIndex+1, d.TotalQuestions)
	}
	if s.Question != nil {
		fmt.Fprintf(&b, "\n   question: %s", s.Question)
	}
	if a := s.LastAnswer; a != nil {
		verdict := "wrong"
		if a.Correct {
			verdict = "correct"
		}
		fmt.Fprintf(&b, "\n   your answer: %s, +%s (score %s)", verdict, humanize.Comma(int64(a.PointsEarned)), humanize.Comma(int64(a.CurrentScore)))
	}
	for i, row := range s.Leaderboard {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "\n   %s %-20s %s", humanize.Ordinal(row.Rank), valueOrDefault(row.Nickname, row.ParticipantID), humanize.Comma(int64(row.Score)))
	}
	return b.String()
}
