package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"buywatch/internal/config"
	"buywatch/internal/domain"
	"buywatch/internal/logging"
	"buywatch/internal/security"
)

var scanCmd = &cobra.Command{
	Use:   "scan <chain:address | address>",
	Short: "Run the security scan for one token and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	target, err := domain.ParseWatchTarget(args[0])
	if err != nil {
		return err
	}
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	scanner := security.NewScanner(security.Options{
		RugCheckURL: cfg.Security.RugCheckURL,
		GoPlusURL:   cfg.Security.GoPlusURL,
		Logger:      logger,
	})
	result := scanner.Scan(cmd.Context(), target.Chain, target.Address)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Chain   domain.Chain `json:"chain"`
		Address string       `json:"address"`
		security.Result
	}{target.Chain, target.Address, result})
}
