package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/join", cfg.Server.WSPath)
	assert.Equal(t, 256, cfg.Server.SendBuffer)
	assert.Equal(t, 10*time.Second, cfg.Server.PersistTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Client.DedupWindow)
	assert.Equal(t, 30*time.Second, cfg.Client.PendingTimeout)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tubechat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: "127.0.0.1:9000"
  ws_path: "ws"
  message_rate: 2.5
log:
  format: console
client:
  username: dana
  pending_timeout: 1m
`), 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("TUBECHAT_SERVER_ADDR", "127.0.0.1:9100")
	t.Setenv("TUBECHAT_CLIENT_COMMUNITY_ID", "c42")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, 2.5, cfg.Server.MessageRate)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "dana", cfg.Client.Username)
	assert.Equal(t, "c42", cfg.Client.CommunityID)
	assert.Equal(t, time.Minute, cfg.Client.PendingTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, 10, cfg.Server.MessageBurst)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	t.Setenv("TUBECHAT_LOG_FORMAT", "xml")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Format")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "server.ws_path", envTransformFunc("TUBECHAT_SERVER_WS_PATH"))
	assert.Equal(t, "client.user_id", envTransformFunc("TUBECHAT_CLIENT_USER_ID"))
	assert.Equal(t, "config", envTransformFunc("TUBECHAT_CONFIG"))
}

func TestNormalizeJoinPath(t *testing.T) {
	assert.Equal(t, "/join", NormalizeJoinPath(""))
	assert.Equal(t, "/chat", NormalizeJoinPath("chat"))
	assert.Equal(t, "/chat", NormalizeJoinPath(" /chat "))
}

func TestDefaultDBPathHonorsDataDir(t *testing.T) {
	t.Setenv("TUBECHAT_DATA_DIR", "/tmp/tc")
	assert.Equal(t, filepath.Join("/tmp/tc", "tubechat.db"), DefaultDBPath())
}
