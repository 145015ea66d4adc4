package alerter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/healthapp/healthapp/internal/types"
)

// HeartbeatReader is the read side of the heartbeat store the detector needs.
type HeartbeatReader interface {
	ListStale(ctx context.Context, before int64) ([]types.HeartbeatRecord, error)
}

// BadStates maps a namespaced state key to the detected condition.
type BadStates map[string]types.BadState

// Keys returns the state keys in no particular order.
func (b BadStates) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	return keys
}

// DetectStale reports every entity whose last heartbeat is at or before
// now-staleness. Entities that never reported are not in the store and so
// never appear here.
func DetectStale(ctx context.Context, heartbeats HeartbeatReader, staleness time.Duration, now time.Time) (BadStates, error) {
	cutoff := now.Add(-staleness).Unix()
	records, err := heartbeats.ListStale(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("detect stale servers: %w", err)
	}

	bad := make(BadStates, len(records))
	for _, rec := range records {
		key := types.StateKey(types.StateKindStale, rec.EntityID)
		bad[key] = types.BadState{
			Key:    key,
			Kind:   types.StateKindStale,
			Entity: rec.EntityID,
			Description: types.Description{
				types.FieldInfo: fmt.Sprintf("Server %s last reported on %s",
					rec.EntityID, time.Unix(rec.LastSeen, 0).UTC().Format(time.RFC3339)),
				"server":    rec.EntityID,
				"last_seen": strconv.FormatInt(rec.LastSeen, 10),
			},
		}
	}
	return bad, nil
}
