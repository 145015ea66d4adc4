package alerter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthapp/healthapp/internal/store"
	"github.com/healthapp/healthapp/internal/types"
)

var errUnavailable = errors.New("store unavailable")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type event struct {
	kind      string
	alertID   string
	stateName string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) NewAlert(_ context.Context, alertID, stateName string, _ types.Description) {
	n.add(event{"new", alertID, stateName})
}

func (n *recordingNotifier) OngoingAlert(_ context.Context, alertID, stateName string) {
	n.add(event{"ongoing", alertID, stateName})
}

func (n *recordingNotifier) ClosedAlert(_ context.Context, stateName, alertID string) {
	n.add(event{"closed", alertID, stateName})
}

func (n *recordingNotifier) add(e event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.kind == kind {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

// flakyRepo fails the named operation while failing is set.
type flakyRepo struct {
	*store.MemoryStore
	mu      sync.Mutex
	failOps map[string]bool
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{MemoryStore: store.NewMemoryStore(), failOps: map[string]bool{}}
}

func (r *flakyRepo) fail(op string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOps[op] = on
}

func (r *flakyRepo) check(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOps[op] {
		return fmt.Errorf("%s: %w", op, errUnavailable)
	}
	return nil
}

func (r *flakyRepo) GetFiring(ctx context.Context) (map[string]string, error) {
	if err := r.check("GetFiring"); err != nil {
		return nil, err
	}
	return r.MemoryStore.GetFiring(ctx)
}

func (r *flakyRepo) SetFiring(ctx context.Context, stateName, alertID string) error {
	if err := r.check("SetFiring"); err != nil {
		return err
	}
	return r.MemoryStore.SetFiring(ctx, stateName, alertID)
}

func (r *flakyRepo) SetAlertField(ctx context.Context, alertID, field, value string) error {
	if err := r.check("SetAlertField:" + field); err != nil {
		return err
	}
	return r.MemoryStore.SetAlertField(ctx, alertID, field, value)
}

func (r *flakyRepo) ListStale(ctx context.Context, before int64) ([]types.HeartbeatRecord, error) {
	if err := r.check("ListStale"); err != nil {
		return nil, err
	}
	return r.MemoryStore.ListStale(ctx, before)
}

type testRig struct {
	repo     *flakyRepo
	clock    *fakeClock
	notifier *recordingNotifier
	engine   *Engine
	ids      int
}

func newTestRig(settings Settings) *testRig {
	rig := &testRig{
		repo:     newFlakyRepo(),
		clock:    newFakeClock(time.Unix(1_700_000_000, 0)),
		notifier: &recordingNotifier{},
	}
	rig.engine = NewEngine(rig.repo, rig.repo, rig.notifier, settings, zerolog.Nop(),
		WithClock(rig.clock.Now),
		WithIDGenerator(func(stateName string) string {
			rig.ids++
			return fmt.Sprintf("%s_%d", stateName, rig.ids)
		}),
	)
	return rig
}

func (r *testRig) heartbeat(entity string, ago time.Duration) {
	_ = r.repo.Record(context.Background(), entity, r.clock.Now().Add(-ago).Unix())
}

func (r *testRig) firing() map[string]string {
	f, _ := r.repo.MemoryStore.GetFiring(context.Background())
	return f
}

func (r *testRig) alert(id string) types.Alert {
	fields, _ := r.repo.GetAlert(context.Background(), id)
	return types.AlertFromFields(id, fields)
}
