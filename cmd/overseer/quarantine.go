package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/overseer/internal/config"
	"github.com/danielpatrickdp/overseer/internal/state"
)

func newQuarantineCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Manage quarantined projects",
	}

	clear := &cobra.Command{
		Use:   "clear <project>",
		Short: "Clear a project's quarantine flag and error counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, err := state.NewStore(cfg.Database)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()

			if err := store.ClearQuarantine(args[0]); err != nil {
				return err
			}
			cmd.Printf("quarantine cleared for %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(clear)
	return cmd
}
