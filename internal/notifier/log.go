package notifier

import (
	"context"

	"github.com/rs/zerolog"
)

// LogChannel writes notifications to the log only.
type LogChannel struct {
	logger zerolog.Logger
}

func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(_ context.Context, msg Message) error {
	l.logger.Info().
		Str("event", string(msg.Event)).
		Str("alert_id", msg.AlertID).
		Str("state_name", msg.StateName).
		Int64("duration", msg.Duration).
		Msg(msg.Subject)
	return nil
}
