package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthapp/healthapp/internal/config"
	"github.com/healthapp/healthapp/internal/store"
	"github.com/healthapp/healthapp/internal/store/redisstore"
)

func TestOpenBackend_Memory(t *testing.T) {
	b, err := openBackend(context.Background(), config.StorageConfig{Backend: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	_, ok := b.(*store.MemoryStore)
	assert.True(t, ok)
	assert.NoError(t, b.Close())
}

func TestOpenBackend_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := openBackend(context.Background(), config.StorageConfig{
		Backend:   "redis",
		RedisURL:  "redis://" + mr.Addr(),
		KeyPrefix: "ha",
	}, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	rs, ok := b.(*redisstore.Store)
	require.True(t, ok)
	assert.Equal(t, "ha:server_last_posts", rs.Keys().ServerLastPosts)
}

func TestOpenBackend_Unknown(t *testing.T) {
	_, err := openBackend(context.Background(), config.StorageConfig{Backend: "etcd"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildDispatcher_Channels(t *testing.T) {
	t.Setenv("APPRISE_OPS_URL", "slack://a/b/c")

	cfg := config.NotifyConfig{
		Log:             true,
		EnableEmails:    true,
		EmailServer:     "mx.example.com",
		EmailSender:     "alerts@example.com",
		EmailRecipients: []string{"ops@example.com"},
		Apprise: config.AppriseConfig{
			APIURL: "http://apprise:8000",
			Channels: []config.AppriseChannelConfig{
				{Name: "ops", URLEnv: "APPRISE_OPS_URL"},
				{Name: "missing", URLEnv: "APPRISE_MISSING_URL"},
			},
		},
	}

	d, cleanup, err := buildDispatcher(cfg, store.NewMemoryStore(), nil, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, []string{"log", "email", "apprise:ops"}, d.Channels())
}

func TestBuildDispatcher_EmailsDisabledByDefault(t *testing.T) {
	d, cleanup, err := buildDispatcher(config.NotifyConfig{}, store.NewMemoryStore(), nil, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()
	assert.Empty(t, d.Channels())
}

func TestEngineSettings(t *testing.T) {
	cfg, err := config.Parse([]byte("server_staleness_duration: 120\nalert_send_email_interval: 10m\nstorage: {backend: memory}\n"))
	require.NoError(t, err)

	s := engineSettings(cfg)
	assert.Equal(t, 2*time.Minute, s.Staleness)
	assert.Equal(t, 10*time.Minute, s.OngoingInterval)
}
