package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dripfeed/internal/config"
	"dripfeed/internal/database"
	"dripfeed/internal/drip"
	"dripfeed/internal/progress"
	"dripfeed/internal/runner"
	"dripfeed/internal/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to config yaml (optional)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging.Level)

	db, err := openStore(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()
	log.Info().Str("backend", db.DatabaseType()).Msg("store ready")

	scheduler := drip.New(db, log.With().Str("component", "drip").Logger())
	tracker := progress.NewTracker()
	monitor := progress.NewMonitor(db, tracker, cfg.Progress.PollInterval.Std(),
		log.With().Str("component", "progress").Logger())

	run := runner.New(db, scheduler, runner.Config{
		ScheduleSpec: cfg.Runner.ScheduleSpec,
		ReleaseSpec:  cfg.Runner.ReleaseSpec,
	}, log.With().Str("component", "runner").Logger())
	if cfg.Runner.Enabled {
		if err := run.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("start runner")
		}
		defer run.Stop()
	}

	srv := server.New(db, scheduler, monitor, tracker, cfg.Server.PublishAllPerMinute,
		log.With().Str("component", "http").Logger())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.ListenAddr) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server stopped")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func openStore(cfg config.DatabaseConfig) (database.Store, error) {
	if cfg.DSN != "" {
		return database.NewPostgres(cfg.DSN)
	}
	return database.New(cfg.Path)
}
