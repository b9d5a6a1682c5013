package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"buywatch/internal/config"
	"buywatch/internal/domain"
	pgstore "buywatch/internal/storage/postgres"
)

var leaderboardLimit int

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Print the persisted trending leaderboard",
	Long: `Leaderboard reads the trending aggregates a running instance persisted
to Postgres. It needs storage.postgres_dsn.`,
	Args: cobra.NoArgs,
	RunE: runLeaderboard,
}

func init() {
	leaderboardCmd.Flags().IntVar(&leaderboardLimit, "limit", 10, "Number of tokens to print")
}

func runLeaderboard(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn is required")
	}

	ctx := cmd.Context()
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	top, err := pgstore.NewTrendingStore(pool).Top(ctx, leaderboardLimit)
	if err != nil {
		return err
	}
	board := make([]domain.TrendingToken, len(top))
	for i, t := range top {
		board[i] = *t
	}
	return printBoard(os.Stdout, board)
}

func printBoard(out io.Writer, board []domain.TrendingToken) error {
	if len(board) == 0 {
		_, err := fmt.Fprintln(out, "No trending tokens yet.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCHAIN\tSYMBOL\tTOKEN\tSCORE\tLAST BUY")
	for i, t := range board {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%s\n",
			i+1, t.Chain, t.Symbol, t.TokenAddress, t.Score,
			time.UnixMilli(t.LastUpdate).UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
