package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the config at path whenever it is written or replaced and
// hands the new Config to onChange, until ctx is cancelled. A reload that
// fails to parse or validate is logged and skipped; the previous config
// stays active.
//
// The parent directory is watched rather than the file, so editors and
// deploy tools that save by renaming a temp file over path are seen too.
func Watch(ctx context.Context, path string, logger zerolog.Logger, onChange func(*Config)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(target); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	logger = logger.With().Str("component", "config").Str("path", target).Logger()
	logger.Info().Msg("Watching config for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// a rename onto target shows up as Create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(target)
			if err != nil {
				logger.Error().Err(err).Str("op", event.Op.String()).Msg("Config reload failed, keeping previous config")
				continue
			}

			logger.Info().Str("op", event.Op.String()).Msg("Config reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}
