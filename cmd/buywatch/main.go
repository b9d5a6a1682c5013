// Command buywatch watches token pools on Ethereum and Solana, reports buys
// and keeps a trending leaderboard.
//
// Usage:
//
//	buywatch run --watch.tokens eth:0x6982...,solana:7GCi...
//	buywatch scan solana:7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr
//	buywatch leaderboard --limit 10
//	buywatch replay --from 24h --trending.model window
//	buywatch migrate
//
// Settings come from config.yaml, .env, BUYWATCH_* variables and flags.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"buywatch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "buywatch",
	Short:         "Buy alerts and trending leaderboard for EVM and Solana tokens",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
