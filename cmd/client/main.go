package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"tubechat/internal/app"
	"tubechat/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to $TUBECHAT_CONFIG)")
	serverJoinURL := flag.String("server", "", "WebSocket join URL (e.g., ws://localhost:8080/join)")
	username := flag.String("user", "", "display name")
	flag.Parse()

	cfg, err := app.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *serverJoinURL != "" {
		cfg.Client.ServerURL = *serverJoinURL
	}
	if *username != "" {
		cfg.Client.Username = *username
	}
	if args := flag.Args(); len(args) >= 1 {
		cfg.Client.CommunityID = args[0]
	}
	// the TUI owns the terminal
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: io.Discard})

	if err := app.RunClient(cfg.Client); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
