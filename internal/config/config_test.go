package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 60*time.Second, cfg.Presence.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Presence.CleanupInterval)
	assert.Equal(t, 10*time.Second, cfg.Signaling.ReplayWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.Peer.CandidateBatchWindow)
	assert.Equal(t, time.Second, cfg.Peer.StatsInterval)
	assert.Equal(t, "whiteboard-v1", cfg.Peer.ChannelLabel)
	assert.Equal(t, 30*time.Second, cfg.Channel.VisibilityTimeout)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9090
store_driver: sqlite
log_level: debug
ice_servers: []
peer:
  candidate_batch_window: 250ms
channel:
  visibility_timeout: 5s
`), 0o600))
	t.Setenv("BOARD_PORT", "9191")
	t.Setenv("BOARD_PEER_STATS_INTERVAL", "2s")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9191, cfg.Port)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.Peer.CandidateBatchWindow)
	assert.Equal(t, 2*time.Second, cfg.Peer.StatsInterval)
	assert.Equal(t, 5*time.Second, cfg.Channel.VisibilityTimeout)
	assert.Empty(t, cfg.ICEServers)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestUnknownStoreDriver(t *testing.T) {
	t.Setenv("BOARD_STORE_DRIVER", "postgres")
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
