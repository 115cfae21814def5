package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "overseer",
		Short:        "Supervise interactive coding-agent sessions",
		Long:         "overseer watches tmux-hosted agent sessions, classifies their state,\nand keeps them moving: continuing stalled work, applying remedies,\ncommitting finished phases, and notifying an operator when judgment\nis needed.",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "overseer.yaml", "path to configuration file")

	cmd.AddCommand(newRunCmd(&configPath))
	cmd.AddCommand(newStatusCmd(&configPath))
	cmd.AddCommand(newQuarantineCmd(&configPath))
	cmd.AddCommand(newPhaseCmd(&configPath))
	return cmd
}
