package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GrabowMar/appanalyzer/internal/config"
	"github.com/GrabowMar/appanalyzer/internal/lifecycle"
	"github.com/GrabowMar/appanalyzer/internal/opsserver"
	"github.com/GrabowMar/appanalyzer/internal/orchestrator"
	"github.com/GrabowMar/appanalyzer/internal/pipeline"
	"github.com/GrabowMar/appanalyzer/internal/registry"
	"github.com/GrabowMar/appanalyzer/internal/store"
	"github.com/GrabowMar/appanalyzer/internal/worker"
	"github.com/GrabowMar/appanalyzer/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analyzer api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting analyzer service")
		defer zap.S().Info("Analyzer service stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		s := store.NewStore(db, cfg.Results.CacheEntries)
		defer s.Close()

		if err := s.InitialMigration(); err != nil {
			zap.S().Fatalw("running initial migration", "error", err)
		}

		reg, err := registry.Default()
		if err != nil {
			zap.S().Fatalw("loading tool catalog", "error", err)
		}

		pool := worker.NewPool(map[registry.WorkerClass][]string{
			registry.WorkerStatic:      cfg.Workers.StaticAddresses,
			registry.WorkerDynamic:     cfg.Workers.DynamicAddresses,
			registry.WorkerPerformance: cfg.Workers.PerformanceAddresses,
			registry.WorkerAI:          cfg.Workers.AIAddresses,
		}, cfg.Workers.ConnectTimeout)
		monitor := worker.NewHealthMonitor(pool, cfg.Workers.HealthCacheTTL)

		orch := orchestrator.New(reg, pool, monitor, s.Result(), cfg.Workers.RequestTimeout)

		gate := pipeline.NewHealthGate(
			monitor,
			lifecycle.NewManager(),
			cfg.Pipeline.ComposeProject,
			cfg.Pipeline.AutoStartWorkers,
			cfg.Pipeline.WorkerStartWait,
			cfg.Pipeline.HealthVerdictCacheTime,
		)

		executor := pipeline.NewExecutor(s, orch, nil, nil, gate, pipeline.Options{
			PollInterval:      cfg.Pipeline.PollInterval,
			GenerationCeiling: cfg.Pipeline.GenerationConcurrency,
			AnalysisCeiling:   cfg.Pipeline.AnalysisConcurrency,
			Workers:           cfg.Pipeline.ExecutorWorkers,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		if cfg.Results.LegacyDir != "" {
			zap.S().Infof("Importing legacy results from %s", cfg.Results.LegacyDir)
			imported, err := s.Result().ImportLegacy(ctx, cfg.Results.LegacyDir, cfg.Results.LegacyImportLimit, cfg.Results.LegacyDeleteSource)
			if err != nil {
				zap.S().Warnw("legacy import aborted", "error", err)
			} else if imported > 0 {
				zap.S().Infof("Imported %d legacy result files", imported)
			}
		}

		executor.Start(ctx)
		defer executor.Stop()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.OpsAddress)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			server := opsserver.New(cfg.Service.OpsAddress, s, pool, monitor, listener)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalw("running ops server", "error", err)
			}
		}()

		<-ctx.Done()
		return nil
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
