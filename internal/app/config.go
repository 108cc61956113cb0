package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix namespaces every environment override, e.g. TUBECHAT_SERVER_ADDR.
	EnvPrefix = "TUBECHAT_"
	// ConfigPathEnvVar names an optional YAML config file.
	ConfigPathEnvVar = "TUBECHAT_CONFIG"
)

// Config is the full configuration for every binary mode.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Log    LogConfig    `koanf:"log"`
	Client ClientConfig `koanf:"client"`
}

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	WSPath          string        `koanf:"ws_path" validate:"required,startswith=/"`
	DBPath          string        `koanf:"db_path" validate:"required"`
	SendBuffer      int           `koanf:"send_buffer" validate:"gte=1"`
	PersistTimeout  time.Duration `koanf:"persist_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	// MessageRate is send/edit events per second per connection; 0 disables throttling.
	MessageRate  float64 `koanf:"message_rate" validate:"gte=0"`
	MessageBurst int     `koanf:"message_burst" validate:"gte=0"`
	// HTTPRateLimit is /api requests per minute per IP; 0 disables it.
	HTTPRateLimit int `koanf:"http_rate_limit" validate:"gte=0"`
}

// LogConfig selects the zerolog level and format. File, when set, receives
// the logs instead of stderr; the terminal client needs this.
type LogConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled off"`
	Format string `koanf:"format" validate:"oneof=json console"`
	File   string `koanf:"file"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL   string `koanf:"server_url" validate:"omitempty,url"`
	UserID      string `koanf:"user_id"`
	Username    string `koanf:"username"`
	Avatar      string `koanf:"avatar"`
	CommunityID string `koanf:"community_id"`
	// DedupWindow bounds how far apart a local send and its echo may be.
	DedupWindow time.Duration `koanf:"dedup_window" validate:"gte=0"`
	// PendingTimeout marks unconfirmed sends failed; negative disables it.
	PendingTimeout time.Duration `koanf:"pending_timeout"`
	TypingTimeout  time.Duration `koanf:"typing_timeout" validate:"gte=0"`
}

// DefaultConfig returns the built-in defaults, the lowest configuration layer.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			WSPath:          "/join",
			DBPath:          DefaultDBPath(),
			SendBuffer:      256,
			PersistTimeout:  10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MessageRate:     5,
			MessageBurst:    10,
			HTTPRateLimit:   120,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Client: ClientConfig{
			ServerURL:      "ws://localhost:8080/join",
			DedupWindow:    5 * time.Second,
			PendingTimeout: 30 * time.Second,
			TypingTimeout:  2 * time.Second,
		},
	}
}

// Load layers defaults, the optional YAML file at path (or TUBECHAT_CONFIG
// when path is empty) and TUBECHAT_* environment variables, then validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	cfg.Server.WSPath = NormalizeJoinPath(cfg.Server.WSPath)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps TUBECHAT_SERVER_WS_PATH to server.ws_path: the first
// segment after the prefix is the section, the rest is the key.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}

var validate = validator.New()

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			first := invalid[0]
			return fmt.Errorf("%s failed %q (got %v)", first.Namespace(), first.Tag(), first.Value())
		}
		return err
	}
	return nil
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("TUBECHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "tubechat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "tubechat", "tubechat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "TubeChat", "tubechat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "TubeChat", "tubechat.db")
		}
		return filepath.Join(home, ".local", "share", "tubechat", "tubechat.db")
	}
	return filepath.Join(".", ".tubechat", "tubechat.db")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/join"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
