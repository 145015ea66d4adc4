// Package redisstore implements the heartbeat store and alert repository on
// Redis hashes and sorted sets.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/healthapp/healthapp/internal/store"
	"github.com/healthapp/healthapp/internal/types"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "healthapp"

// Keys holds the Redis key layout.
type Keys struct {
	ServerLastPosts string // sorted set: entity -> last_seen
	AlertsFiring    string // hash: state_name -> alert id
	AlertsHistory   string // sorted set: alert id -> start_time
	alertInfoPrefix string
}

// NewKeys builds the key layout under prefix.
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keys{
		ServerLastPosts: prefix + ":server_last_posts",
		AlertsFiring:    prefix + ":alerts_current",
		AlertsHistory:   prefix + ":alerts_list",
		alertInfoPrefix: prefix + ":alert_info:",
	}
}

// AlertInfo returns the hash key holding one alert's fields.
func (k Keys) AlertInfo(alertID string) string {
	return k.alertInfoPrefix + alertID
}

// Store is a store.Backend backed by a single Redis client.
type Store struct {
	client redis.UniversalClient
	keys   Keys
}

var _ store.Backend = (*Store)(nil)

// Open parses url, connects and pings the server.
func Open(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, prefix), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, keys: NewKeys(prefix)}
}

// Keys exposes the key layout, mainly for tests and tooling.
func (s *Store) Keys() Keys { return s.keys }

func (s *Store) Record(ctx context.Context, entityID string, timestamp int64) error {
	return s.client.ZAdd(ctx, s.keys.ServerLastPosts, redis.Z{Score: float64(timestamp), Member: entityID}).Err()
}

func (s *Store) ListStale(ctx context.Context, before int64) ([]types.HeartbeatRecord, error) {
	zs, err := s.client.ZRevRangeByScoreWithScores(ctx, s.keys.ServerLastPosts, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list stale heartbeats: %w", err)
	}
	return toRecords(zs), nil
}

func (s *Store) LastSeen(ctx context.Context, entityID string) (int64, bool, error) {
	score, err := s.client.ZScore(ctx, s.keys.ServerLastPosts, entityID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("last seen %s: %w", entityID, err)
	}
	return int64(score), true, nil
}

func (s *Store) List(ctx context.Context) ([]types.HeartbeatRecord, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.keys.ServerLastPosts, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	return toRecords(zs), nil
}

func (s *Store) GetFiring(ctx context.Context) (map[string]string, error) {
	firing, err := s.client.HGetAll(ctx, s.keys.AlertsFiring).Result()
	if err != nil {
		return nil, fmt.Errorf("get firing alerts: %w", err)
	}
	return firing, nil
}

func (s *Store) SetFiring(ctx context.Context, stateName, alertID string) error {
	return s.client.HSet(ctx, s.keys.AlertsFiring, stateName, alertID).Err()
}

func (s *Store) ClearFiring(ctx context.Context, stateName string) error {
	return s.client.HDel(ctx, s.keys.AlertsFiring, stateName).Err()
}

func (s *Store) PutAlert(ctx context.Context, alertID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return s.client.HSet(ctx, s.keys.AlertInfo(alertID), values).Err()
}

func (s *Store) GetAlert(ctx context.Context, alertID string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.AlertInfo(alertID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", alertID, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return fields, nil
}

func (s *Store) GetAlertField(ctx context.Context, alertID, field string) (string, error) {
	v, err := s.client.HGet(ctx, s.keys.AlertInfo(alertID), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get alert %s field %s: %w", alertID, field, err)
	}
	return v, nil
}

func (s *Store) SetAlertField(ctx context.Context, alertID, field, value string) error {
	return s.client.HSet(ctx, s.keys.AlertInfo(alertID), field, value).Err()
}

func (s *Store) AppendHistory(ctx context.Context, alertID string, timestamp int64) error {
	return s.client.ZAdd(ctx, s.keys.AlertsHistory, redis.Z{Score: float64(timestamp), Member: alertID}).Err()
}

func (s *Store) ListHistory(ctx context.Context, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.keys.AlertsHistory, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list alert history: %w", err)
	}
	return ids, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func toRecords(zs []redis.Z) []types.HeartbeatRecord {
	out := make([]types.HeartbeatRecord, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		out = append(out, types.HeartbeatRecord{EntityID: member, LastSeen: int64(z.Score)})
	}
	return out
}
