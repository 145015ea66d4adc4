// Package pgstore implements the heartbeat store and alert repository on
// PostgreSQL through pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthapp/healthapp/internal/store"
	"github.com/healthapp/healthapp/internal/types"
)

// Schema creates the tables used by Store. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS heartbeats (
	entity_id TEXT PRIMARY KEY,
	last_seen BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS heartbeats_last_seen_idx ON heartbeats (last_seen);

CREATE TABLE IF NOT EXISTS alerts (
	alert_id TEXT PRIMARY KEY,
	fields   JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS alerts_firing (
	state_name TEXT PRIMARY KEY,
	alert_id   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts_history (
	alert_id   TEXT PRIMARY KEY,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS alerts_history_created_at_idx ON alerts_history (created_at DESC);
`

// Store is a store.Backend on a pgx connection pool.
type Store struct {
	Pool *pgxpool.Pool
}

var _ store.Backend = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// EnsureSchema applies Schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, entityID string, timestamp int64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO heartbeats (entity_id, last_seen) VALUES ($1, $2)
		ON CONFLICT (entity_id) DO UPDATE SET last_seen = EXCLUDED.last_seen`, entityID, timestamp)
	return err
}

func (s *Store) ListStale(ctx context.Context, before int64) ([]types.HeartbeatRecord, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT entity_id, last_seen FROM heartbeats
		WHERE last_seen <= $1 ORDER BY last_seen DESC, entity_id DESC`, before)
	if err != nil {
		return nil, fmt.Errorf("list stale heartbeats: %w", err)
	}
	return scanHeartbeats(rows)
}

func (s *Store) LastSeen(ctx context.Context, entityID string) (int64, bool, error) {
	var ts int64
	err := s.Pool.QueryRow(ctx, `SELECT last_seen FROM heartbeats WHERE entity_id=$1`, entityID).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("last seen %s: %w", entityID, err)
	}
	return ts, true, nil
}

func (s *Store) List(ctx context.Context) ([]types.HeartbeatRecord, error) {
	rows, err := s.Pool.Query(ctx, `SELECT entity_id, last_seen FROM heartbeats ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	return scanHeartbeats(rows)
}

func (s *Store) GetFiring(ctx context.Context) (map[string]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT state_name, alert_id FROM alerts_firing`)
	if err != nil {
		return nil, fmt.Errorf("get firing alerts: %w", err)
	}
	defer rows.Close()
	firing := make(map[string]string)
	for rows.Next() {
		var stateName, alertID string
		if err := rows.Scan(&stateName, &alertID); err != nil {
			return nil, err
		}
		firing[stateName] = alertID
	}
	return firing, rows.Err()
}

func (s *Store) SetFiring(ctx context.Context, stateName, alertID string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO alerts_firing (state_name, alert_id) VALUES ($1, $2)
		ON CONFLICT (state_name) DO UPDATE SET alert_id = EXCLUDED.alert_id`, stateName, alertID)
	return err
}

func (s *Store) ClearFiring(ctx context.Context, stateName string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM alerts_firing WHERE state_name=$1`, stateName)
	return err
}

// PutAlert merges fields into the record, matching hash semantics.
func (s *Store) PutAlert(ctx context.Context, alertID string, fields map[string]string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO alerts (alert_id, fields) VALUES ($1, $2)
		ON CONFLICT (alert_id) DO UPDATE SET fields = alerts.fields || EXCLUDED.fields`, alertID, fields)
	return err
}

func (s *Store) GetAlert(ctx context.Context, alertID string) (map[string]string, error) {
	var fields map[string]string
	err := s.Pool.QueryRow(ctx, `SELECT fields FROM alerts WHERE alert_id=$1`, alertID).Scan(&fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", alertID, err)
	}
	return fields, nil
}

func (s *Store) GetAlertField(ctx context.Context, alertID, field string) (string, error) {
	var v *string
	err := s.Pool.QueryRow(ctx, `SELECT fields->>$2 FROM alerts WHERE alert_id=$1`, alertID, field).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && v == nil) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get alert %s field %s: %w", alertID, field, err)
	}
	return *v, nil
}

func (s *Store) SetAlertField(ctx context.Context, alertID, field, value string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO alerts (alert_id, fields) VALUES ($1, jsonb_build_object($2::text, $3::text))
		ON CONFLICT (alert_id) DO UPDATE SET fields = alerts.fields || jsonb_build_object($2::text, $3::text)`,
		alertID, field, value)
	return err
}

func (s *Store) AppendHistory(ctx context.Context, alertID string, timestamp int64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO alerts_history (alert_id, created_at) VALUES ($1, $2)
		ON CONFLICT (alert_id) DO UPDATE SET created_at = EXCLUDED.created_at`, alertID, timestamp)
	return err
}

func (s *Store) ListHistory(ctx context.Context, limit int) ([]string, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.Pool.Query(ctx, `SELECT alert_id FROM alerts_history ORDER BY created_at DESC, alert_id DESC LIMIT $1`, limit)
	} else {
		rows, err = s.Pool.Query(ctx, `SELECT alert_id FROM alerts_history ORDER BY created_at DESC, alert_id DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list alert history: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Close() error {
	if s.Pool != nil {
		s.Pool.Close()
	}
	return nil
}

func scanHeartbeats(rows pgx.Rows) ([]types.HeartbeatRecord, error) {
	defer rows.Close()
	out := []types.HeartbeatRecord{}
	for rows.Next() {
		var rec types.HeartbeatRecord
		if err := rows.Scan(&rec.EntityID, &rec.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
