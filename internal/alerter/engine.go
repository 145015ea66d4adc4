package alerter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthapp/healthapp/internal/store"
	"github.com/healthapp/healthapp/internal/types"
)

// Notifier receives alert lifecycle events. Implementations handle and log
// their own delivery failures; the engine never waits on an outcome.
type Notifier interface {
	NewAlert(ctx context.Context, alertID, stateName string, description types.Description)
	OngoingAlert(ctx context.Context, alertID, stateName string)
	ClosedAlert(ctx context.Context, stateName, alertID string)
}

// Recorder observes finished reconciliation cycles.
type Recorder interface {
	ObserveCycle(res Result, err error)
}

// Settings are the tunables the engine reads at the start of every cycle.
type Settings struct {
	Staleness       time.Duration
	OngoingInterval time.Duration // <= 0 disables ongoing notifications
}

// Result summarizes one reconciliation cycle.
type Result struct {
	New       int           `json:"new"`
	Ongoing   int           `json:"ongoing"`
	Closed    int           `json:"closed"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Firing returns how many alerts are open after the cycle.
func (r Result) Firing() int {
	return r.New + r.Ongoing
}

// Engine runs the alert lifecycle: it diffs detected bad states against the
// firing index, creating, continuing and closing alerts.
//
// A single Engine must be the only writer of its repository.
type Engine struct {
	heartbeats HeartbeatReader
	repo       store.AlertRepository
	notifier   Notifier
	recorder   Recorder
	throttle   *Throttle
	logger     zerolog.Logger
	now        func() time.Time
	newID      func(stateName string) string

	mu       sync.RWMutex
	settings Settings
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(gen func(stateName string) string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithRecorder attaches a cycle observer, typically metrics.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithThrottle shares an existing throttle.
func WithThrottle(t *Throttle) Option {
	return func(e *Engine) {
		if t != nil {
			e.throttle = t
		}
	}
}

// NewEngine creates a new alert engine
func NewEngine(heartbeats HeartbeatReader, repo store.AlertRepository, notifier Notifier, settings Settings, logger zerolog.Logger, opts ...Option) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	e := &Engine{
		heartbeats: heartbeats,
		repo:       repo,
		notifier:   notifier,
		throttle:   NewThrottle(),
		logger:     logger.With().Str("component", "alerter").Logger(),
		now:        time.Now,
		newID:      GenerateAlertID,
		settings:   settings,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateAlertID returns "<stateName>_<uuid>".
func GenerateAlertID(stateName string) string {
	return stateName + "_" + uuid.NewString()
}

// Settings returns the current tunables.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// UpdateSettings swaps the tunables used from the next cycle on.
func (e *Engine) UpdateSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
	e.logger.Info().
		Dur("staleness", s.Staleness).
		Dur("ongoing_interval", s.OngoingInterval).
		Msg("Alert settings updated")
}

// Throttle exposes the ongoing-notification throttle.
func (e *Engine) Throttle() *Throttle {
	return e.throttle
}

// Reconcile runs one full cycle: detect stale servers, then reconcile them
// against the firing index. Any store error aborts the cycle; whatever was
// already persisted stays, and the next cycle picks up from there.
func (e *Engine) Reconcile(ctx context.Context) (Result, error) {
	settings := e.Settings()
	start := e.now()

	e.logger.Info().Msg("Starting alert run")

	res := Result{StartedAt: start}
	bad, err := DetectStale(ctx, e.heartbeats, settings.Staleness, start)
	if err == nil {
		res, err = e.ReconcileStates(ctx, bad)
	}
	res.StartedAt = start
	res.Duration = e.now().Sub(start)

	if e.recorder != nil {
		e.recorder.ObserveCycle(res, err)
	}
	if err != nil {
		return res, err
	}

	e.logger.Info().
		Int("new", res.New).
		Int("ongoing", res.Ongoing).
		Int("closed", res.Closed).
		Dur("duration", res.Duration).
		Msg("Alert run finished")
	return res, nil
}

// ReconcileStates diffs bad against the persisted firing index. Existing
// firing alerts are resolved before new ones are created, so a state
// never closes and reopens within one call. bad is consumed.
//
// Notifications are held until the store work is done, even when the cycle
// aborts part-way, and are sent on a context detached from ctx.
func (e *Engine) ReconcileStates(ctx context.Context, bad BadStates) (Result, error) {
	var res Result
	var outbox []func(context.Context)
	defer func() { e.flush(ctx, outbox) }()

	settings := e.Settings()

	firing, err := e.repo.GetFiring(ctx)
	if err != nil {
		return res, fmt.Errorf("read firing alerts: %w", err)
	}

	stateNames := make([]string, 0, len(firing))
	for name := range firing {
		stateNames = append(stateNames, name)
	}
	sort.Strings(stateNames)

	for _, stateName := range stateNames {
		alertID := firing[stateName]
		log := e.logger.With().Str("state_name", stateName).Str("alert_id", alertID).Logger()

		if _, stillBad := bad[stateName]; stillBad {
			delete(bad, stateName)
			res.Ongoing++
			if e.throttle.ShouldNotifyOngoing(alertID, settings.OngoingInterval, e.now()) {
				log.Info().Msg("Alert still firing, sending ongoing notification")
				outbox = append(outbox, func(nctx context.Context) {
					e.notifier.OngoingAlert(nctx, alertID, stateName)
				})
			} else {
				log.Debug().Msg("Alert still firing, ongoing notification throttled")
			}
			continue
		}

		log.Info().Msg("Alert no longer firing, closing")
		if err := e.closeAlert(ctx, stateName, alertID); err != nil {
			return res, err
		}
		res.Closed++
		outbox = append(outbox, func(nctx context.Context) {
			e.notifier.ClosedAlert(nctx, stateName, alertID)
		})
	}

	newStates := bad.Keys()
	sort.Strings(newStates)
	for _, stateName := range newStates {
		alert, err := e.createAlert(ctx, stateName, bad[stateName].Description)
		if err != nil {
			return res, err
		}
		res.New++
		outbox = append(outbox, func(nctx context.Context) {
			e.notifier.NewAlert(nctx, alert.ID, alert.StateName, alert.Description)
		})
		e.logger.Info().
			Str("state_name", stateName).
			Str("alert_id", alert.ID).
			Msg("Created new alert")
	}

	return res, nil
}

func (e *Engine) flush(ctx context.Context, outbox []func(context.Context)) {
	if len(outbox) == 0 {
		return
	}
	nctx := context.WithoutCancel(ctx)
	for _, send := range outbox {
		send(nctx)
	}
}

// CreateAlert persists a new firing alert for stateName and announces it.
// Callers must check the firing index first; CreateAlert does not.
func (e *Engine) CreateAlert(ctx context.Context, stateName string, description types.Description) (string, error) {
	alert, err := e.createAlert(ctx, stateName, description)
	if err != nil {
		return "", err
	}
	e.notifier.NewAlert(context.WithoutCancel(ctx), alert.ID, stateName, alert.Description)
	return alert.ID, nil
}

func (e *Engine) createAlert(ctx context.Context, stateName string, description types.Description) (types.Alert, error) {
	now := e.now().Unix()
	alert := types.Alert{
		ID:          e.newID(stateName),
		StateName:   stateName,
		StartTime:   now,
		EndTime:     types.EndTimeOngoing,
		Description: description.Clone(),
	}

	if err := e.repo.PutAlert(ctx, alert.ID, alert.Fields()); err != nil {
		return alert, fmt.Errorf("save alert %s: %w", alert.ID, err)
	}
	if err := e.repo.SetFiring(ctx, stateName, alert.ID); err != nil {
		return alert, fmt.Errorf("mark alert %s firing: %w", alert.ID, err)
	}
	if err := e.repo.AppendHistory(ctx, alert.ID, now); err != nil {
		return alert, fmt.Errorf("record alert %s in history: %w", alert.ID, err)
	}
	return alert, nil
}

// CloseAlert removes stateName from the firing index and stamps the
// alert's end_time and duration. Re-running it on an already closed alert
// rewrites the same values, so it is safe to retry.
func (e *Engine) CloseAlert(ctx context.Context, stateName, alertID string) error {
	if err := e.closeAlert(ctx, stateName, alertID); err != nil {
		return err
	}
	e.notifier.ClosedAlert(context.WithoutCancel(ctx), stateName, alertID)
	return nil
}

func (e *Engine) closeAlert(ctx context.Context, stateName, alertID string) error {
	log := e.logger.With().Str("state_name", stateName).Str("alert_id", alertID).Logger()

	if err := e.repo.ClearFiring(ctx, stateName); err != nil {
		return fmt.Errorf("clear firing %s: %w", stateName, err)
	}

	endTime := e.now().Unix()
	existing, err := e.repo.GetAlertField(ctx, alertID, types.FieldEndTime)
	switch {
	case err == nil:
		if v, ok := types.LookupSeconds(existing); ok && v != types.EndTimeOngoing {
			endTime = v
		}
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("read alert %s end time: %w", alertID, err)
	}

	if err := e.repo.SetAlertField(ctx, alertID, types.FieldEndTime, strconv.FormatInt(endTime, 10)); err != nil {
		return fmt.Errorf("set alert %s end time: %w", alertID, err)
	}

	raw, err := e.repo.GetAlertField(ctx, alertID, types.FieldStartTime)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("read alert %s start time: %w", alertID, err)
	}
	startTime, ok := types.LookupSeconds(raw)
	if !ok {
		// TODO: decide whether a corrupted record should skip the close instead.
		log.Warn().Str("start_time", raw).Msg("Alert start time missing or unparseable, using 0")
		startTime = 0
	}

	duration := endTime - startTime
	if err := e.repo.SetAlertField(ctx, alertID, types.FieldDuration, strconv.FormatInt(duration, 10)); err != nil {
		return fmt.Errorf("set alert %s duration: %w", alertID, err)
	}

	e.throttle.Forget(alertID)
	log.Info().Int64("duration_seconds", duration).Msg("Alert closed")
	return nil
}

type nopNotifier struct{}

func (nopNotifier) NewAlert(context.Context, string, string, types.Description) {}
func (nopNotifier) OngoingAlert(context.Context, string, string)                {}
func (nopNotifier) ClosedAlert(context.Context, string, string)                 {}
