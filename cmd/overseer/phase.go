package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/overseer/internal/config"
	"github.com/danielpatrickdp/overseer/internal/logging"
	"github.com/danielpatrickdp/overseer/internal/notify"
	"github.com/danielpatrickdp/overseer/internal/scm"
	"github.com/danielpatrickdp/overseer/internal/state"
	"github.com/danielpatrickdp/overseer/internal/supervisor"
)

func newPhaseCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Approve or advance project phases",
	}

	approve := &cobra.Command{
		Use:   "approve <project>",
		Short: "Grant the manual approval the current phase is waiting for",
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

			ps, found, err := store.LoadProject(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("project %q has no recorded state", args[0])
			}
			ps.Approved = true
			if err := store.SaveProject(ps); err != nil {
				return err
			}
			cmd.Printf("phase %q approved for %s\n", ps.PhaseName, args[0])
			return nil
		},
	}

	var force bool
	advance := &cobra.Command{
		Use:   "advance <project>",
		Short: "Transition the project to its next phase",
		Long:  "Commits the current phase and advances the phase cursor. Without --force the phase's completion criteria must hold based on the last persisted state.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := state.NewStore(cfg.Database)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()

			var projectCfg *supervisor.ProjectConfig
			for _, p := range cfg.SupervisorProjects() {
				if p.Name == args[0] {
					projectCfg = &p
					break
				}
			}
			if projectCfg == nil {
				return fmt.Errorf("project %q is not configured", args[0])
			}

			ps, found, err := store.LoadProject(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("project %q has no recorded state", args[0])
			}

			phases := supervisor.NewPhaseManager(
				scm.NewGit("", "", logger.Named("scm")),
				notify.NewLog(logger.Named("notify")),
				logger.Named("phase"))

			// The last persisted counters stand in for a live observation.
			obs := supervisor.Observation{
				TodosTotal: ps.TodosTotal,
				TodosDone:  ps.TodosDone,
				TodosLeft:  ps.TodosLeft,
				Problems:   ps.Problems,
			}
			if err := phases.Transition(cmd.Context(), &ps, obs, *projectCfg, force); err != nil {
				return err
			}
			if err := store.SaveProject(ps); err != nil {
				return err
			}
			if ps.Complete {
				cmd.Printf("%s: final phase closed, project complete\n", args[0])
			} else {
				cmd.Printf("%s: advanced to phase %q\n", args[0], ps.PhaseName)
			}
			return nil
		},
	}
	advance.Flags().BoolVar(&force, "force", false, "bypass the completion check")

	cmd.AddCommand(approve)
	cmd.AddCommand(advance)
	return cmd
}
