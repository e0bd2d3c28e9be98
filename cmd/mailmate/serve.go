package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/api"
	"github.com/nhle/mailmate/internal/pipeline"
	"github.com/nhle/mailmate/internal/server"
	"github.com/nhle/mailmate/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	Long: `Start the background mail cycle (once immediately, then every
scheduler.interval_minutes) and serve the registration API until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Error("opening database failed", zap.String("path", cfg.Database.Path), zap.Error(err))
		return err
	}

	orch := newOrchestrator(cfg, st, log)
	sched := pipeline.NewScheduler(orch.RunCycle, cfg.Scheduler.Interval(), log)

	handler := api.NewHandler(st, sched, log)
	srv := server.New(
		api.NewRouter(handler, cfg.Server.AllowedOrigins(), log),
		cfg.Server.Port,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		cfg.Server.ShutdownTimeout,
		log,
	)

	// Shutdown runs in reverse: the scheduler stops before the store closes.
	srv.OnShutdown("store", func(context.Context) error { return st.Close() })
	srv.OnShutdown("scheduler", func(context.Context) error {
		sched.Stop()
		return nil
	})

	log.Info("starting mailmate",
		zap.String("bot_address", cfg.Mail.Address),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("interval", cfg.Scheduler.Interval()),
	)

	// Bind first so a busy port fails before any cycle runs.
	ln, err := srv.Listen()
	if err != nil {
		log.Error("starting HTTP server failed", zap.Error(err))
		_ = st.Close()
		return err
	}

	sched.Start(cmd.Context())

	return srv.Serve(cmd.Context(), ln)
}
