package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tubechat/internal/app"
	"tubechat/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to $TUBECHAT_CONFIG)")
	addr := flag.String("addr", "", "server listen address")
	path := flag.String("path", "", "websocket join path")
	db := flag.String("db", "", "sqlite database path")
	flag.Parse()

	cfg, err := app.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *path != "" {
		cfg.Server.WSPath = app.NormalizeJoinPath(*path)
	}
	if *db != "" {
		cfg.Server.DBPath = *db
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg.Server)
	if err != nil {
		logging.Err(err).Msg("server failed to start")
		os.Exit(1)
	}
	if err := handle.Wait(); err != nil {
		logging.Err(err).Msg("server exited")
		os.Exit(1)
	}
}
