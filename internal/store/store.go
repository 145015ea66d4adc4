// Package store defines the persistence contracts used by the alert
// processor and an in-memory implementation of them. Networked backends
// live in the redisstore and pgstore subpackages.
package store

import (
	"context"
	"errors"

	"github.com/healthapp/healthapp/internal/types"
)

// ErrNotFound is returned when an alert record or field does not exist.
var ErrNotFound = errors.New("store: not found")

// HeartbeatStore records the last report time of each monitored entity.
type HeartbeatStore interface {
	Record(ctx context.Context, entityID string, timestamp int64) error
	// ListStale returns every entity whose last report is at or before
	// the given epoch second, most recent first.
	ListStale(ctx context.Context, before int64) ([]types.HeartbeatRecord, error)
	LastSeen(ctx context.Context, entityID string) (int64, bool, error)
	List(ctx context.Context) ([]types.HeartbeatRecord, error)
}

// AlertRepository persists alert records, the firing index and the
// historical index.
type AlertRepository interface {
	GetFiring(ctx context.Context) (map[string]string, error)
	SetFiring(ctx context.Context, stateName, alertID string) error
	ClearFiring(ctx context.Context, stateName string) error

	PutAlert(ctx context.Context, alertID string, fields map[string]string) error
	GetAlert(ctx context.Context, alertID string) (map[string]string, error)
	GetAlertField(ctx context.Context, alertID, field string) (string, error)
	SetAlertField(ctx context.Context, alertID, field, value string) error

	AppendHistory(ctx context.Context, alertID string, timestamp int64) error
	// ListHistory returns alert ids most recent first. limit <= 0 means all.
	ListHistory(ctx context.Context, limit int) ([]string, error)
}

// Backend bundles both contracts; every shipped implementation satisfies it.
type Backend interface {
	HeartbeatStore
	AlertRepository
	Close() error
}
