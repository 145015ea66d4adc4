package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthapp/healthapp/internal/alerter"
	"github.com/healthapp/healthapp/internal/api"
	"github.com/healthapp/healthapp/internal/config"
	"github.com/healthapp/healthapp/internal/logbuffer"
	"github.com/healthapp/healthapp/internal/metrics"
	"github.com/healthapp/healthapp/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: search $CONFIG_FILE, /etc/healthapp, /usr/local/healthapp, ./config.yaml)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Keep the last 1000 log lines for /api/logs
	logBuffer := logbuffer.New(1000)

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(zerolog.MultiLevelWriter(os.Stdout, logBuffer)).With().
		Timestamp().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Logger()

	logger.Info().Msg("Starting alert processor")

	path := *configPath
	if path == "" {
		path, err = config.Find()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to locate configuration")
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("config_path", path).
			Msg("Failed to load configuration")
	}

	logger.Info().
		Str("config_path", path).
		Dur("staleness", cfg.ServerStaleness.Std()).
		Dur("interval", cfg.AlertProcessInterval.Std()).
		Dur("ongoing_interval", cfg.AlertSendEmailInterval.Std()).
		Str("backend", cfg.Storage.Backend).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 15*time.Second)
	backend, err := openBackend(connectCtx, cfg.Storage, logger)
	cancelConnect()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing storage")
		}
	}()

	m := metrics.New()

	dispatcher, closeNotifiers, err := buildDispatcher(cfg.Notify, backend, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure notifications")
	}
	defer closeNotifiers()

	engine := alerter.NewEngine(backend, backend, dispatcher, engineSettings(cfg), logger, alerter.WithRecorder(m))
	scheduler := alerter.NewScheduler(engine, cfg.AlertProcessInterval.Std(), cfg.CycleTimeout.Std(), logger)

	apiServer := api.NewServer(backend, backend, cfg.ServerStaleness.Std(), logger)
	apiServer.SetLogBuffer(logBuffer)
	apiServer.SetMetricsHandler(m.Handler())
	apiServer.SetStatusSource(scheduler)

	// Storage and listen address changes need a restart.
	applyConfig := func(newCfg *config.Config) {
		engine.UpdateSettings(engineSettings(newCfg))
		scheduler.SetInterval(newCfg.AlertProcessInterval.Std())
		apiServer.SetStaleness(newCfg.ServerStaleness.Std())
	}
	apiServer.SetReloadFunc(func() error {
		newCfg, err := config.Load(path)
		if err != nil {
			return err
		}
		applyConfig(newCfg)
		return nil
	})

	go func() {
		if err := config.Watch(ctx, path, logger, applyConfig); err != nil {
			logger.Error().Err(err).Msg("Config watch stopped")
		}
	}()

	go func() {
		if err := apiServer.Start(cfg.API.Listen); err != nil {
			logger.Error().Err(err).Msg("API server error")
			stop()
		}
	}()

	// Blocks until a signal arrives; the in-flight cycle always finishes.
	scheduler.Run(ctx)

	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down API server")
	}

	logger.Info().Msg("Alert processor stopped")
}
