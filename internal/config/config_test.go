package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, DefaultServerStaleness, cfg.ServerStaleness.Std())
	assert.Equal(t, DefaultAlertProcessInterval, cfg.AlertProcessInterval.Std())
	assert.Equal(t, time.Duration(0), cfg.AlertSendEmailInterval.Std())
	assert.Equal(t, DefaultCycleTimeout, cfg.CycleTimeout.Std())
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, DefaultRedisURL, cfg.Storage.RedisURL)
	assert.Equal(t, "healthapp", cfg.Storage.KeyPrefix)
	assert.Equal(t, ":8000", cfg.API.Listen)
	assert.False(t, cfg.Notify.EnableEmails)
}

func TestParse_SecondsAndDurations(t *testing.T) {
	cfg, err := Parse([]byte(`
server_staleness_duration: 300
alert_process_interval: 30s
alert_send_email_interval: 1h
storage:
  backend: memory
`))
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.ServerStaleness.Std())
	assert.Equal(t, 30*time.Second, cfg.AlertProcessInterval.Std())
	assert.Equal(t, time.Hour, cfg.AlertSendEmailInterval.Std())
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Empty(t, cfg.Storage.RedisURL)
}

func TestParse_FullNotify(t *testing.T) {
	cfg, err := Parse([]byte(`
notify:
  enable_emails: true
  email_server: mail.example.com
  email_sender: alerts@example.com
  email_recipients: [ops@example.com]
  log: true
  apprise:
    api_url: http://apprise:8000
    channels:
      - name: ops
        url_env: APPRISE_OPS_URL
  nats:
    url: nats://localhost:4222
    subject: ops.alerts
`))
	require.NoError(t, err)

	n := cfg.Notify
	assert.True(t, n.EnableEmails)
	assert.Equal(t, []string{"ops@example.com"}, n.EmailRecipients)
	assert.True(t, n.Log)
	assert.Equal(t, "http://apprise:8000", n.Apprise.APIURL)
	require.Len(t, n.Apprise.Channels, 1)
	assert.Equal(t, "APPRISE_OPS_URL", n.Apprise.Channels[0].URLEnv)
	assert.Equal(t, "ops.alerts", n.NATS.Subject)
}

func TestParse_NegativeOngoingIntervalDisables(t *testing.T) {
	for _, raw := range []string{"-1", "-1s", "-300"} {
		cfg, err := Parse([]byte("alert_send_email_interval: " + raw + "\n"))
		require.NoError(t, err, raw)
		assert.Equal(t, time.Duration(0), cfg.AlertSendEmailInterval.Std(), raw)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad duration":          "server_staleness_duration: soon",
		"nan duration":          "server_staleness_duration: .nan",
		"inf duration":          "alert_process_interval: Inf",
		"negative interval":     "alert_process_interval: -5",
		"unknown backend":       "storage: {backend: mongo}",
		"postgres without dsn":  "storage: {backend: postgres}",
		"emails without server": "notify: {enable_emails: true, email_sender: a@x, email_recipients: [b@x]}",
		"emails without rcpt":   "notify: {enable_emails: true, email_server: mx, email_sender: a@x}",
		"apprise without env":   "notify: {apprise: {channels: [{name: ops}]}}",
		"apprise duplicate": `notify:
  apprise:
    channels:
      - {name: ops, url_env: A}
      - {name: ops, url_env: B}`,
		"not yaml": "storage: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_FileTypes(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json", `{"server_staleness_duration": 120, "storage": {"backend": "memory"}}`))
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, cfg.ServerStaleness.Std())

	_, err = Load(writeConfig(t, "config.toml", "x = 1"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFind_PrefersEnv(t *testing.T) {
	path := writeConfig(t, "custom.yaml", "{}")
	t.Setenv(EnvConfigFile, path)

	found, err := Find()
	require.NoError(t, err)
	assert.Equal(t, path, found)
	assert.Equal(t, path, SearchPaths()[0])
}

func TestFind_NothingFound(t *testing.T) {
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "nope.yaml"))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if _, err := os.Stat("/etc/healthapp/config.yaml"); err == nil {
		t.Skip("system config present")
	}
	if _, err := os.Stat("/usr/local/healthapp/config.yaml"); err == nil {
		t.Skip("system config present")
	}

	_, err = Find()
	assert.ErrorIs(t, err, ErrNoConfig)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "config.yaml", "server_staleness_duration: 60\nstorage: {backend: memory}\n")

	var mu sync.Mutex
	var got *Config
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zerolog.Nop(), func(c *Config) {
			mu.Lock()
			got = c
			mu.Unlock()
		})
	}()

	// write until the watcher has picked it up; Watch may not be armed yet
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("server_staleness_duration: 90\nstorage: {backend: memory}\n"), 0o644)
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.ServerStaleness.Std() == 90*time.Second
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_ReloadsOnRenameReplace(t *testing.T) {
	path := writeConfig(t, "config.yaml", "server_staleness_duration: 60\nstorage: {backend: memory}\n")
	dir := filepath.Dir(path)

	var mu sync.Mutex
	var got []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Watch(ctx, path, zerolog.Nop(), func(c *Config) {
			mu.Lock()
			got = append(got, c.ServerStaleness.Std())
			mu.Unlock()
		})
	}()

	replace := func(seconds string) {
		tmp := filepath.Join(dir, ".config.yaml.tmp")
		_ = os.WriteFile(tmp, []byte("server_staleness_duration: "+seconds+"\nstorage: {backend: memory}\n"), 0o644)
		_ = os.Rename(tmp, path)
	}
	seen := func(d time.Duration) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, v := range got {
				if v == d {
					return true
				}
			}
			return false
		}
	}

	// the watch must survive the first replacement and see a second one
	assert.Eventually(t, func() bool {
		replace("90")
		return seen(90 * time.Second)()
	}, 3*time.Second, 50*time.Millisecond)
	assert.Eventually(t, func() bool {
		replace("120")
		return seen(120 * time.Second)()
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatch_InvalidReloadKeepsPrevious(t *testing.T) {
	path := writeConfig(t, "config.yaml", "storage: {backend: memory}\n")

	calls := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = Watch(ctx, path, zerolog.Nop(), func(c *Config) { calls <- c }) }()

	time.Sleep(100 * time.Millisecond)
	// overwrite in place with a single write so no truncated state is observed
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("storage: {backend: mongo}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case c := <-calls:
		t.Fatalf("unexpected reload: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), zerolog.Nop(), func(*Config) {})
	assert.Error(t, err)
}
