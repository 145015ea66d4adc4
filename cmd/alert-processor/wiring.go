package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/healthapp/healthapp/internal/alerter"
	"github.com/healthapp/healthapp/internal/config"
	"github.com/healthapp/healthapp/internal/notifier"
	"github.com/healthapp/healthapp/internal/store"
	"github.com/healthapp/healthapp/internal/store/pgstore"
	"github.com/healthapp/healthapp/internal/store/redisstore"
)

// openBackend connects the configured storage backend.
func openBackend(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case "redis":
		s, err := redisstore.Open(ctx, cfg.RedisURL, cfg.KeyPrefix)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("backend", "redis").Str("key_prefix", cfg.KeyPrefix).Msg("Storage connected")
		return s, nil

	case "postgres":
		s, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.Info().Str("backend", "postgres").Msg("Storage connected")
		return s, nil

	case "memory":
		logger.Warn().Str("backend", "memory").Msg("Using in-memory storage, state is lost on restart")
		return store.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// buildDispatcher creates the notification channels. The returned cleanup
// closes any connections the channels hold.
func buildDispatcher(cfg config.NotifyConfig, reader notifier.AlertReader, observer notifier.Observer, logger zerolog.Logger) (*notifier.Dispatcher, func(), error) {
	opts := []notifier.DispatcherOption{
		notifier.WithAlertReader(reader),
		notifier.WithObserver(observer),
	}
	cleanup := func() {}

	if cfg.Log {
		opts = append(opts, notifier.WithChannel(notifier.NewLogChannel(logger.With().Str("component", "notify_log").Logger())))
	}

	if cfg.EnableEmails {
		email, err := notifier.NewEmailChannel(cfg.EmailServer, cfg.EmailSender, cfg.EmailRecipients)
		if err != nil {
			return nil, cleanup, err
		}
		opts = append(opts, notifier.WithChannel(email))
	} else {
		logger.Debug().Msg("Alert emails disabled")
	}

	apiURL := cfg.Apprise.APIURL
	if apiURL == "" {
		apiURL = os.Getenv("APPRISE_API_URL")
	}
	for _, ch := range cfg.Apprise.Channels {
		serviceURL := os.Getenv(ch.URLEnv)
		if serviceURL == "" {
			logger.Warn().
				Str("channel", ch.Name).
				Str("url_env", ch.URLEnv).
				Msg("Channel URL not found, skipping")
			continue
		}
		opts = append(opts, notifier.WithChannel(notifier.NewAppriseChannel(ch.Name, apiURL, serviceURL, logger)))
	}

	if cfg.NATS.URL != "" {
		nc, err := notifier.NewNATSChannel(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = nc.Close
		opts = append(opts, notifier.WithChannel(nc))
	}

	d := notifier.NewDispatcher(logger, opts...)
	logger.Info().Strs("channels", d.Channels()).Msg("Notification channels configured")
	return d, cleanup, nil
}

func engineSettings(cfg *config.Config) alerter.Settings {
	return alerter.Settings{
		Staleness:       cfg.ServerStaleness.Std(),
		OngoingInterval: cfg.AlertSendEmailInterval.Std(),
	}
}
