package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	intrnl "tubechat/internal"
	"tubechat/internal/app"
	"tubechat/internal/logging"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	flagSet := flag.NewFlagSet("tubechat", flag.ExitOnError)
	configPath := flagSet.String("config", "", "YAML config file (defaults to $TUBECHAT_CONFIG)")
	addr := flagSet.String("addr", "", "server listen address")
	path := flagSet.String("path", "", "websocket join path")
	db := flagSet.String("db", "", "sqlite database path")
	serverURL := flagSet.String("server-url", "", "server websocket URL (client mode)")
	username := flagSet.String("user", "", "display name")
	community := flagSet.String("community", "", "community id to open")
	logLevel := flagSet.String("log-level", "", "log level: debug, info, warn, error")
	logFile := flagSet.String("log-file", "", "write logs to this file")
	showVersion := flagSet.Bool("version", false, "print version and exit")
	flagSet.Parse(args)

	if *showVersion {
		build := intrnl.CurrentBuild()
		fmt.Printf("tubechat %s (%s, %s, %s)\n", build.Version, build.Revision, build.GoVersion, build.Platform)
		return
	}

	cfg, err := app.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tubechat: %v\n", err)
		os.Exit(1)
	}
	if mode == modeLocal && *addr == "" {
		cfg.Server.Addr = "127.0.0.1:0"
	}
	overrideString(&cfg.Server.Addr, *addr)
	overrideString(&cfg.Server.WSPath, *path)
	overrideString(&cfg.Server.DBPath, *db)
	overrideString(&cfg.Client.ServerURL, *serverURL)
	overrideString(&cfg.Client.Username, *username)
	overrideString(&cfg.Client.CommunityID, *community)
	overrideString(&cfg.Log.Level, *logLevel)
	overrideString(&cfg.Log.File, *logFile)
	if remaining := flagSet.Args(); len(remaining) > 0 && *community == "" {
		cfg.Client.CommunityID = remaining[0]
	}
	cfg.Server.WSPath = app.NormalizeJoinPath(cfg.Server.WSPath)

	closeLog, err := initLogging(cfg.Log, mode != modeServer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tubechat: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeServer:
		err = runServerMode(ctx, cfg.Server)
	case modeLocal:
		err = runLocalMode(ctx, cfg.Server, cfg.Client)
	default:
		err = runClientMode(cfg.Client)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Err(err).Str("mode", mode).Msg("exiting")
		fmt.Fprintf(os.Stderr, "tubechat: %v\n", err)
		os.Exit(1)
	}
}

// initLogging sends logs to the configured file, or to stderr for the server.
// The TUI owns the terminal, so client modes without a file discard logs.
func initLogging(cfg app.LogConfig, terminalUI bool) (func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	switch {
	case cfg.File != "":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	case terminalUI:
		out = io.Discard
	}
	logging.Init(logging.Config{Level: cfg.Level, Format: cfg.Format, Output: out})
	return closeFn, nil
}

func runServerMode(ctx context.Context, cfg app.ServerConfig) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	return handle.Wait()
}

func runClientMode(cfg app.ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("client mode requires --server-url or TUBECHAT_CLIENT_SERVER_URL")
	}
	return app.RunClient(cfg)
}

func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig) error {
	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.WSPath)
	logging.Info().Str("url", clientCfg.ServerURL).Msg("launching local client")

	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// buildWebsocketURL turns a listen address into a dialable join URL. Wildcard
// hosts are replaced with loopback.
func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
