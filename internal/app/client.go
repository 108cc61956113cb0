package app

import (
	"errors"

	intrnl "tubechat/internal"
	"tubechat/internal/chatstore"
	"tubechat/internal/protocol"
)

// RunClient launches the Bubble Tea TUI with the provided configuration.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	return intrnl.RunClient(clientOptions(cfg))
}

func clientOptions(cfg ClientConfig) intrnl.ClientOptions {
	return intrnl.ClientOptions{
		ServerURL: cfg.ServerURL,
		Identity: protocol.Identity{
			ID:       cfg.UserID,
			Username: cfg.Username,
			Avatar:   cfg.Avatar,
		},
		CommunityID: cfg.CommunityID,
		Store: chatstore.Config{
			DedupWindow:    cfg.DedupWindow,
			PendingTimeout: cfg.PendingTimeout,
			TypingTimeout:  cfg.TypingTimeout,
		},
	}
}
