package main

import (
	"github.com/spf13/cobra"

	"reddit-lead-generator/internal/config"
	"reddit-lead-generator/internal/logger"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "leadctl",
	Short: "Operations CLI for the lead generator",
	Long: `leadctl runs maintenance tasks against the lead generator's Postgres and Redis.

Example usage:
  leadctl migrate                              # apply embedded migrations
  leadctl dlq list                             # show dead-lettered sweep targets
  leadctl sweep once --owner U --product P     # run one sweep generation now
  leadctl schedule preview --count 8           # print drip release offsets`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.Init(cfg.LogLevel)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, dlqCmd, sweepCmd, scheduleCmd)
}
