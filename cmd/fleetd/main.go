// fleetd runs the agent fleet: the event bus, the nine-agent roster,
// the cron scheduler, and the control API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/agents"
	"github.com/shipit-ai/fleet/pkg/ai"
	"github.com/shipit-ai/fleet/pkg/api"
	"github.com/shipit-ai/fleet/pkg/bus"
	"github.com/shipit-ai/fleet/pkg/config"
	"github.com/shipit-ai/fleet/pkg/metrics"
	"github.com/shipit-ai/fleet/pkg/scheduler"
	"github.com/shipit-ai/fleet/pkg/store"
)

var version = "dev"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "fleetd",
	Short:         "Event-driven agent fleet daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bus, the agent fleet, and the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fleetd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("fleetd", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// completerFor builds the configured AI provider. A nil return is
// valid: agents fall back to deterministic analysis.
func completerFor(cfg config.AI) ai.Completer {
	switch cfg.Provider {
	case "openai":
		return ai.NewGateway(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "anthropic":
		return ai.NewAnthropic(cfg.APIKey, cfg.Model)
	}
	return nil
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger()
	slog.SetDefault(log)

	// Durable state. An empty db_path runs fully in memory.
	var (
		configs     agent.ConfigStore
		connections store.ConnectionStore
	)
	if cfg.DBPath != "" {
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		configs, connections = db, db
		log.Info("database opened", "path", cfg.DBPath)
	} else {
		mem := store.NewMemory()
		configs, connections = mem, mem
		log.Warn("no db_path configured, state will not survive restarts")
	}

	ms := metrics.NewStore()
	hist := metrics.NewHistory(0)

	completer := completerFor(cfg.AI)
	if completer != nil {
		log.Info("ai provider configured", "provider", cfg.AI.Provider)
	} else {
		log.Info("no ai provider, agents run deterministic fallbacks")
	}

	registry := agent.NewRegistry(log, ms, configs)
	deps := &agents.Deps{
		Log:         log,
		Analyzer:    agents.NewAnalyzer(completer, log),
		Connections: connections,
		Metrics:     ms,
		History:     hist,
	}
	if err := agents.RegisterFleet(registry, deps); err != nil {
		return err
	}
	if err := registry.Load(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New(log, registry, ms, hist,
		bus.WithHandlerTimeout(cfg.HandlerTimeout),
		bus.WithMaxChainDepth(cfg.MaxChainDepth),
		bus.WithDemoPayloads(agents.DemoPayloads()),
	)
	b.Start(ctx)

	sched := scheduler.New(log, b)
	if cfg.AnalyticsCron != "" {
		if err := sched.AddMetricsReport(cfg.AnalyticsCron, cfg.AnalyticsProject); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	srv := api.NewServer(log, cfg.Addr(), cfg.APIKey, registry, b, hist, connections)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	log.Info("fleet running", "agents", len(registry.All()), "addr", cfg.Addr())
	<-ctx.Done()
	log.Info("shutting down")

	if err := srv.Stop(); err != nil {
		log.Error("api shutdown", "error", err)
	}

	// Let in-flight chains finish before closing the bus.
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.WaitIdle(drainCtx); err != nil {
		log.Warn("bus still busy at shutdown", "error", err)
	}
	b.Close()
	return nil
}
