package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthapp/healthapp/internal/store"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := New(client, "test")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestKeysLayout(t *testing.T) {
	k := NewKeys("")
	assert.Equal(t, "healthapp:server_last_posts", k.ServerLastPosts)
	assert.Equal(t, "healthapp:alerts_current", k.AlertsFiring)
	assert.Equal(t, "healthapp:alerts_list", k.AlertsHistory)
	assert.Equal(t, "healthapp:alert_info:stale_web1_abc", k.AlertInfo("stale_web1_abc"))
}

func TestRedisStore_Heartbeats(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Record(ctx, "old", 100))
	require.NoError(t, s.Record(ctx, "edge", 200))
	require.NoError(t, s.Record(ctx, "fresh", 300))

	stale, err := s.ListStale(ctx, 200)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "edge", stale[0].EntityID)
	assert.Equal(t, int64(200), stale[0].LastSeen)
	assert.Equal(t, "old", stale[1].EntityID)

	ts, ok, err := s.LastSeen(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(300), ts)

	_, ok, err = s.LastSeen(ctx, "never")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRedisStore_FiringIndex(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.SetFiring(ctx, "stale_web1", "stale_web1_1"))
	require.NoError(t, s.SetFiring(ctx, "stale_web2", "stale_web2_1"))
	require.NoError(t, s.ClearFiring(ctx, "stale_web1"))

	firing, err := s.GetFiring(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"stale_web2": "stale_web2_1"}, firing)
	assert.Equal(t, "stale_web2_1", mr.HGet("test:alerts_current", "stale_web2"))
}

func TestRedisStore_AlertRecord(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.GetAlert(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetAlertField(ctx, "nope", "start_time")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutAlert(ctx, "a1", map[string]string{
		"state_name": "stale_web1",
		"start_time": "1000",
		"end_time":   "-1",
	}))
	require.NoError(t, s.SetAlertField(ctx, "a1", "end_time", "1600"))
	require.NoError(t, s.SetAlertField(ctx, "a1", "duration", "600"))

	fields, err := s.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "1600", fields["end_time"])
	assert.Equal(t, "600", fields["duration"])

	v, err := s.GetAlertField(ctx, "a1", "state_name")
	require.NoError(t, err)
	assert.Equal(t, "stale_web1", v)
}

func TestRedisStore_History(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.AppendHistory(ctx, "a", 100))
	require.NoError(t, s.AppendHistory(ctx, "b", 300))
	require.NoError(t, s.AppendHistory(ctx, "c", 200))

	ids, err := s.ListHistory(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, ids)

	ids, err = s.ListHistory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestRedisStore_UnreachableServer(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.GetFiring(ctx)
	assert.Error(t, err)
	_, err = s.ListStale(ctx, 100)
	assert.Error(t, err)
}

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), "not a url", "")
	assert.Error(t, err)
}
