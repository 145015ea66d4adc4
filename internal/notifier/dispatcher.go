package notifier

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthapp/healthapp/internal/types"
)

const defaultSendTimeout = 10 * time.Second

// Channel delivers a rendered message somewhere.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// AlertReader looks up stored alert fields, used to report elapsed time.
type AlertReader interface {
	GetAlert(ctx context.Context, alertID string) (map[string]string, error)
}

// Observer is told about every delivery attempt.
type Observer interface {
	ObserveNotification(event, channel string, err error)
}

// Dispatcher renders lifecycle events and fans them out to its channels.
// Delivery failures are logged and counted, never returned.
type Dispatcher struct {
	channels    []Channel
	reader      AlertReader
	observer    Observer
	logger      zerolog.Logger
	now         func() time.Time
	sendTimeout time.Duration
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithChannel adds a delivery channel.
func WithChannel(c Channel) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.channels = append(d.channels, c)
		}
	}
}

// WithAlertReader enables duration reporting on ongoing and closed messages.
func WithAlertReader(r AlertReader) DispatcherOption {
	return func(d *Dispatcher) { d.reader = r }
}

// WithObserver attaches a delivery observer, typically metrics.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithSendTimeout bounds each channel delivery.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher with no channels unless given.
func NewDispatcher(logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger:      logger.With().Str("component", "notifier").Logger(),
		now:         time.Now,
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Channels returns the configured channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

// NewAlert announces a freshly opened alert.
func (d *Dispatcher) NewAlert(ctx context.Context, alertID, stateName string, description types.Description) {
	d.dispatch(ctx, EventNew, alertID, stateName, description, -1)
}

// OngoingAlert announces an alert that is still firing.
func (d *Dispatcher) OngoingAlert(ctx context.Context, alertID, stateName string) {
	duration := int64(-1)
	if fields := d.lookup(ctx, alertID); fields != nil {
		if start, ok := types.LookupSeconds(fields[types.FieldStartTime]); ok {
			duration = d.now().Unix() - start
		}
	}
	d.dispatch(ctx, EventOngoing, alertID, stateName, nil, duration)
}

// ClosedAlert announces a closed alert.
func (d *Dispatcher) ClosedAlert(ctx context.Context, stateName, alertID string) {
	duration := int64(-1)
	if fields := d.lookup(ctx, alertID); fields != nil {
		if v, ok := types.LookupSeconds(fields[types.FieldDuration]); ok {
			duration = v
		}
	}
	d.dispatch(ctx, EventClosed, alertID, stateName, nil, duration)
}

func (d *Dispatcher) lookup(ctx context.Context, alertID string) map[string]string {
	if d.reader == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()
	fields, err := d.reader.GetAlert(ctx, alertID)
	if err != nil {
		d.logger.Warn().Err(err).Str("alert_id", alertID).Msg("Could not read alert for notification")
		return nil
	}
	return fields
}

func (d *Dispatcher) dispatch(ctx context.Context, event Event, alertID, stateName string, description types.Description, duration int64) {
	msg, err := Render(event, alertID, stateName, description, duration, d.now())
	if err != nil {
		d.logger.Error().Err(err).Str("alert_id", alertID).Msg("Failed to render notification")
		return
	}

	if len(d.channels) == 0 {
		d.logger.Debug().Str("event", string(event)).Str("alert_id", alertID).Msg("No notification channels configured")
		return
	}

	// each send gets its own budget, independent of the caller's deadline
	base := context.WithoutCancel(ctx)
	for _, ch := range d.channels {
		sendCtx, cancel := context.WithTimeout(base, d.sendTimeout)
		err := ch.Send(sendCtx, msg)
		cancel()

		if d.observer != nil {
			d.observer.ObserveNotification(string(event), ch.Name(), err)
		}
		if err != nil {
			d.logger.Error().
				Err(err).
				Str("channel", ch.Name()).
				Str("event", string(event)).
				Str("alert_id", alertID).
				Msg("Failed to send notification")
			continue
		}
		d.logger.Info().
			Str("channel", ch.Name()).
			Str("event", string(event)).
			Str("alert_id", alertID).
			Msg("Notification sent")
	}
}
