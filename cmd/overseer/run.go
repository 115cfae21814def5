package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/overseer/internal/config"
	"github.com/danielpatrickdp/overseer/internal/logging"
	"github.com/danielpatrickdp/overseer/internal/notify"
	"github.com/danielpatrickdp/overseer/internal/scm"
	"github.com/danielpatrickdp/overseer/internal/state"
	"github.com/danielpatrickdp/overseer/internal/supervisor"
	"github.com/danielpatrickdp/overseer/internal/tmux"
)

func newRunCmd(configPath *string) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervision loop",
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

			orch := buildOrchestrator(cfg, store, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if once {
				return orch.RunOnce(ctx)
			}
			return orch.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

// buildOrchestrator wires every collaborator from configuration.
func buildOrchestrator(cfg *config.Config, store *state.Store, logger *zap.Logger) *supervisor.Orchestrator {
	adapter := tmux.NewAdapter(0, logger.Named("tmux"))
	notifier := buildNotifier(cfg, logger)
	git := scm.NewGit("", "", logger.Named("scm"))

	rule := supervisor.NewRulePolicy()
	advisoryCfg := cfg.SupervisorAdvisory()
	var client supervisor.AdvisoryClient
	if advisoryCfg.Enabled {
		key := os.Getenv(cfg.Advisory.APIKeyEnv)
		if key == "" {
			logger.Warn("advisory enabled but API key env is empty, falling back to rules",
				zap.String("env", cfg.Advisory.APIKeyEnv))
		} else {
			client = supervisor.NewAnthropicClient(key, advisoryCfg.Model)
		}
	}
	policy := supervisor.NewAdvisoryPolicy(advisoryCfg, client, store, rule, logger.Named("policy"))

	dispatcher := supervisor.NewDispatcher(adapter, adapter, notifier, cfg.Notify.MaxPerHour, logger.Named("dispatch"))
	phases := supervisor.NewPhaseManager(git, notifier, logger.Named("phase"))

	return supervisor.NewOrchestrator(cfg.SupervisorProjects(), cfg.Interval, cfg.MaxRuntime, supervisor.OrchestratorDeps{
		Store:      store,
		Sensor:     adapter,
		Lister:     adapter,
		Policy:     policy,
		Phases:     phases,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Logger:     logger.Named("orchestrator"),
	})
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) supervisor.Notifier {
	var targets []supervisor.Notifier
	if cfg.Notify.WebhookURL != "" {
		targets = append(targets, notify.NewWebhook(cfg.Notify.WebhookURL, logger.Named("notify")))
	}
	if cfg.Notify.Command != "" {
		targets = append(targets, notify.NewCommand(cfg.Notify.Command, logger.Named("notify")))
	}
	if len(targets) == 0 {
		return notify.NewLog(logger.Named("notify"))
	}
	if len(targets) == 1 {
		return targets[0]
	}
	return notify.NewMulti(targets...)
}
