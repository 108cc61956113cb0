package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunServerServesAndStops(t *testing.T) {
	cfg := DefaultConfig().Server
	cfg.Addr = "127.0.0.1:0"
	cfg.DBPath = filepath.Join(t.TempDir(), "data", "tubechat.db")
	cfg.ShutdownTimeout = 2 * time.Second

	handle, err := RunServer(context.Background(), cfg)
	require.NoError(t, err)

	resp, err := http.Get("http://" + handle.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, handle.Stop(stopCtx))
	assert.NoError(t, handle.Wait())

	_, err = http.Get("http://" + handle.Addr() + "/healthz")
	assert.Error(t, err)
}

func TestRunServerStopsWithContext(t *testing.T) {
	cfg := DefaultConfig().Server
	cfg.Addr = "127.0.0.1:0"
	cfg.DBPath = filepath.Join(t.TempDir(), "tubechat.db")
	cfg.ShutdownTimeout = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := RunServer(ctx, cfg)
	require.NoError(t, err)

	cancel()
	done := make(chan error, 1)
	go func() { done <- handle.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancellation")
	}
}

func TestRunServerRequiresDBPath(t *testing.T) {
	cfg := DefaultConfig().Server
	cfg.DBPath = ""
	_, err := RunServer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestClientOptionsFromConfig(t *testing.T) {
	cfg := DefaultConfig().Client
	cfg.UserID = "u1"
	cfg.Username = "alice"
	cfg.CommunityID = "c1"
	cfg.PendingTimeout = -1

	opts := clientOptions(cfg)
	assert.Equal(t, "u1", opts.Identity.ID)
	assert.Equal(t, "alice", opts.Identity.Username)
	assert.Equal(t, "c1", opts.CommunityID)
	assert.Equal(t, time.Duration(-1), opts.Store.PendingTimeout)
	assert.Equal(t, 5*time.Second, opts.Store.DedupWindow)
}
