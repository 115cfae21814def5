package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/overseer/internal/config"
	"github.com/danielpatrickdp/overseer/internal/state"
)

func newStatusCmd(configPath *string) *cobra.Command {
	var decisions int

	cmd := &cobra.Command{
		Use:   "status [project]",
		Short: "Show supervised project state",
		Args:  cobra.MaximumNArgs(1),
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

			if len(args) == 1 {
				return printProject(cmd, store, args[0], decisions)
			}
			return printOverview(cmd, store)
		},
	}

	cmd.Flags().IntVarP(&decisions, "decisions", "n", 10, "number of recent decisions to show")
	return cmd
}

func printOverview(cmd *cobra.Command, store *state.Store) error {
	projects, err := store.ListProjects()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		cmd.Println("no supervised projects recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tSTATUS\tPHASE\tTODOS\tCYCLES\tSPEND\tFLAGS\tUPDATED")
	for _, ps := range projects {
		flags := ""
		if ps.Quarantined {
			flags += "quarantined "
		}
		if ps.Complete {
			flags += "complete"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t$%.4f\t%s\t%s\n",
			ps.Name, ps.Status, ps.PhaseName,
			ps.TodosDone, ps.TodosTotal,
			ps.Stats.Cycles, ps.Stats.SpendUSD,
			flags, ps.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func printProject(cmd *cobra.Command, store *state.Store, name string, n int) error {
	ps, found, err := store.LoadProject(name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("project %q has no recorded state", name)
	}

	cmd.Printf("project:  %s\n", ps.Name)
	cmd.Printf("status:   %s\n", ps.Status)
	cmd.Printf("phase:    %s (index %d, started %s)\n", ps.PhaseName, ps.PhaseIndex, ps.PhaseStartedAt.Format(time.RFC3339))
	cmd.Printf("todos:    %d done / %d total\n", ps.TodosDone, ps.TodosTotal)
	cmd.Printf("session:  %s\n", ps.SessionID)
	cmd.Printf("stats:    %d cycles, %d continues, %d notifies, %d remedies, %d transitions\n",
		ps.Stats.Cycles, ps.Stats.Continues, ps.Stats.Notifies, ps.Stats.Remedies, ps.Stats.Transitions)
	cmd.Printf("advisory: %d calls, $%.4f spent\n", ps.Stats.AdvisoryCalls, ps.Stats.SpendUSD)
	if ps.Quarantined {
		cmd.Printf("QUARANTINED after %d consecutive errors\n", ps.ConsecutiveErrors)
	}
	for _, p := range ps.Problems {
		cmd.Printf("problem:  [%s/%s] %s\n", p.Severity, p.Category, p.Text)
	}

	decs, err := store.LastDecisions(name, n)
	if err != nil {
		return err
	}
	if len(decs) > 0 {
		cmd.Println("\nrecent decisions:")
		for _, d := range decs {
			cmd.Printf("  %s  %-16s  %.2f  %s\n",
				d.Time.Format("01-02 15:04:05"), d.Action, d.Confidence, d.Rationale)
		}
	}
	return nil
}
