package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	intrnl "tubechat/internal"
	"tubechat/internal/logging"
	"tubechat/internal/storage"
)

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop cancels the supervisor and waits for it to finish, or for ctx.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.cancel == nil {
		return nil
	}
	h.cancel()
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the SQLite store, runs migrations, binds the listener and
// starts the hub and HTTP services under a supervisor. Cancelling ctx or
// calling Stop shuts everything down; the store is closed last.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	cfg.WSPath = NormalizeJoinPath(cfg.WSPath)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if !strings.HasPrefix(cfg.DBPath, "sqlite://") {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	hub := intrnl.NewHub(intrnl.HubConfig{
		SendBuffer:     cfg.SendBuffer,
		PersistTimeout: cfg.PersistTimeout,
		MessageRate:    cfg.MessageRate,
		MessageBurst:   cfg.MessageBurst,
	}, store, store, intrnl.NewMetrics())
	server := intrnl.NewServer(hub, store, intrnl.ServerOptions{
		WSPath:        cfg.WSPath,
		HTTPRateLimit: cfg.HTTPRateLimit,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)

	sup := newSupervisor(cfg.ShutdownTimeout)
	sup.Add(&hubService{hub: hub})
	sup.Add(newHTTPService(httpServer, listener, cfg.ShutdownTimeout))

	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	logging.Info().
		Str("addr", handle.addr).
		Str("ws_path", cfg.WSPath).
		Str("db", cfg.DBPath).
		Msg("server listening")

	errCh := sup.ServeBackground(runCtx)
	go func() {
		defer close(handle.done)
		err := <-errCh
		cancel()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
		if closeErr := store.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("store close failed")
		}
		handle.err = err
		logging.Info().Msg("server stopped")
	}()

	return handle, nil
}
