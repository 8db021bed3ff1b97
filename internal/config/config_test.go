package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaultsAndOverrides(t *testing.T) {
	path := writeFile(t, "config.test.yaml", `
port: 9090
token_secret: s3cret
app_id: demo
join_interval: 30s
`)
	t.Setenv("ROOMSERVER_MODE", "debug")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, "demo", cfg.AppID)
	assert.Equal(t, 30*time.Second, cfg.JoinInterval)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 5, cfg.JoinLimit)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
}

func TestLoadFileRequiresTokenSecret(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadClient(t *testing.T) {
	path := writeFile(t, "client.yaml", `
app_id: demo
token: tok
codec: vp9
`)
	cfg, err := LoadClient([]string{"--config", path, "--channel", "Other"})
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.AppID)
	assert.Equal(t, "Other", cfg.Channel)
	assert.Equal(t, "vp9", cfg.Codec)
	assert.Equal(t, "rtc", cfg.Mode)
	assert.Equal(t, 10*time.Second, cfg.StateTimeout)
}

func TestLoadClientDefaultChannel(t *testing.T) {
	path := writeFile(t, "client.yaml", "app_id: demo\ntoken: tok\n")
	t.Setenv("VIDEOROOM_LOG_FILE", "/tmp/x.log")
	cfg, err := LoadClient([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, "Test-Channel", cfg.Channel)
	assert.Equal(t, "/tmp/x.log", cfg.LogFile)
}

func TestLoadClientRejects(t *testing.T) {
	empty := writeFile(t, "client.yaml", "")
	_, err := LoadClient([]string{"--config", empty})
	assert.ErrorIs(t, err, ErrMissingJoinConfig)

	bad := writeFile(t, "client.yaml", "app_id: a\ntoken: t\ncodec: av1\n")
	_, err = LoadClient([]string{"--config", bad})
	assert.ErrorContains(t, err, "unsupported codec")
}
