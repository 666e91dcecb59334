package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sonnet", cfg.Claude.Model)
	assert.Equal(t, 600*time.Second, cfg.Session.TurnTimeout())
	assert.Equal(t, 30*time.Second, cfg.Session.Heartbeat())
	assert.Equal(t, 300*time.Second, cfg.Session.FeedbackWindow())
	assert.Equal(t, "127.0.0.1:8620", cfg.Web.ListenAddr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[chat]
api_url = "https://chat.example.com/api"
bot_user_id = "B123"

[claude]
model = "opus"

[session]
turn_timeout_secs = 120
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com/api", cfg.Chat.APIURL)
	assert.Equal(t, "B123", cfg.Chat.BotUserID)
	assert.Equal(t, "opus", cfg.Claude.Model)
	assert.Equal(t, 120*time.Second, cfg.Session.TurnTimeout())
	// Untouched sections keep defaults.
	assert.Equal(t, 30, cfg.Session.HeartbeatSecs)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "sonnet", cfg.Claude.Model)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPSBRIDGE_BOT_TOKEN", "xoxb-env")
	t.Setenv("OPSBRIDGE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-env", cfg.Chat.BotToken)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[session]\nturn_timeout_secs = -1\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[claude]\nmodel = \"sonnet\"\n"), 0o600))

	var reloads atomic.Int32
	got := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) {
		reloads.Add(1)
		got <- cfg
	})
	require.NoError(t, err)
	go w.Start()
	defer w.Stop()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[claude]\nmodel = \"opus\"\n"), 0o600))

	select {
	case cfg := <-got:
		assert.Equal(t, "opus", cfg.Claude.Model)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report reload")
	}
}

func TestWatcherKeepsOldConfigOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[claude]\nmodel = \"sonnet\"\n"), 0o600))

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(*Config) { reloads.Add(1) })
	require.NoError(t, err)
	go w.Start()
	defer w.Stop()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0o600))
	time.Sleep(time.Second)

	assert.Equal(t, int32(0), reloads.Load())
}
