package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"quizbot/internal/app"
	"quizbot/internal/config"
	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	logx "quizbot/pkg/logx"

	"github.com/spf13/cobra"
)

func newLeaderboardCmd(configPath *string) *cobra.Command {
	var (
		chatID int64
		window string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print a leaderboard from the answer log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := quiz.ParseWindow(window)
			if err != nil {
				return err
			}
			return runLeaderboard(cmd.Context(), cmd.OutOrStdout(), *configPath, quiz.ChatScope(chatID), w, limit)
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 0, "chat id (0 = all chats)")
	cmd.Flags().StringVar(&window, "window", "all", "time window: all|today|week")
	cmd.Flags().IntVar(&limit, "limit", 0, "rows to print (0 = leaderboard.limit)")
	return cmd
}

// openStore opens the configured store without requiring bot credentials.
func openStore(configPath string) (storage.Store, config.Resolved, error) {
	cfg, err := config.NewConfigManager(configPath).Parse()
	if err != nil {
		return nil, config.Resolved{}, err
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, config.Resolved{}, err
	}
	st, err := storage.Open(app.StorageConfig(cfg, res), logx.Nop())
	if err != nil {
		return nil, config.Resolved{}, fmt.Errorf("storage: %w", err)
	}
	return st, res, nil
}

func runLeaderboard(ctx context.Context, out io.Writer, configPath string, scope quiz.Scope, w quiz.Window, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, res, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	r := quiz.NewRanker(st)
	r.SetDefaultLimit(res.LeaderboardLimit)
	board, err := r.Leaderboard(ctx, scope, w, limit)
	if err != nil {
		return err
	}
	return printBoard(out, board)
}

func printBoard(out io.Writer, board []quiz.Entry) error {
	if len(board) == 0 {
		_, err := fmt.Fprintln(out, "no answers recorded")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tID\tNAME\tSCORE")
	for _, e := range board {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\n", e.Rank, e.ParticipantID, e.DisplayName, e.Score)
	}
	return tw.Flush()
}
