// Package config loads settings for the ledger node, the relay server and
// ledgerctl.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// then environment variables. The mains load .env files before calling Load.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Harry0M/oikos-sub001/pkg/logging"
)

// Relay backends served by cmd/relay.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Relay       RelayConfig       `yaml:"relay"`
	RelayServer RelayServerConfig `yaml:"relay_server"`
	Outbox      OutboxConfig      `yaml:"outbox"`
	Auth        AuthConfig        `yaml:"auth"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig configures the device node (cmd/server).
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	DBPath      string   `yaml:"db_path"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// RelayConfig tells the device node where the relay lives.
type RelayConfig struct {
	URL string `yaml:"url"`
	// DeviceToken, when set, signs the node in at startup so sync runs
	// before the first authenticated request.
	DeviceToken string `yaml:"device_token"`
}

// RelayServerConfig configures cmd/relay.
type RelayServerConfig struct {
	Addr        string   `yaml:"addr"`
	Backend     string   `yaml:"backend"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type OutboxConfig struct {
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":8080",
			DBPath:      "./data/ledger.db",
			CORSOrigins: []string{"*"},
		},
		Relay: RelayConfig{
			URL: "http://localhost:8090",
		},
		RelayServer: RelayServerConfig{
			Addr:        ":8090",
			Backend:     BackendMemory,
			CORSOrigins: []string{"*"},
		},
		Outbox: OutboxConfig{
			BaseDelay:    time.Second,
			MaxDelay:     5 * time.Minute,
			PollInterval: 5 * time.Second,
			BatchSize:    50,
		},
		Auth: AuthConfig{
			TokenDuration: 30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// CONFIG_PATH is consulted; a missing file is only an error when a path
// was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decodeYAML(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("DB_PATH", &cfg.Server.DBPath)
	setString("SERVER_ADDR", &cfg.Server.Addr)
	setString("RELAY_URL", &cfg.Relay.URL)
	setString("DEVICE_TOKEN", &cfg.Relay.DeviceToken)
	setString("RELAY_ADDR", &cfg.RelayServer.Addr)
	setString("RELAY_BACKEND", &cfg.RelayServer.Backend)
	setString("RELAY_POSTGRES_DSN", &cfg.RelayServer.PostgresDSN)
	setString("JWT_SECRET", &cfg.Auth.JWTSecret)
	setString("LOG_LEVEL", &cfg.Log.Level)

	if v := getenv("CORS_ORIGINS"); v != "" {
		origins := splitList(v)
		cfg.Server.CORSOrigins = origins
		cfg.RelayServer.CORSOrigins = origins
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"OUTBOX_BASE_DELAY", &cfg.Outbox.BaseDelay},
		{"OUTBOX_MAX_DELAY", &cfg.Outbox.MaxDelay},
		{"OUTBOX_POLL_INTERVAL", &cfg.Outbox.PollInterval},
		{"TOKEN_DURATION", &cfg.Auth.TokenDuration},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first setting that would keep a component from
// starting.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is required (set JWT_SECRET)")
	}
	if c.Auth.TokenDuration <= 0 {
		return errors.New("token duration must be positive")
	}
	if c.Outbox.BaseDelay <= 0 || c.Outbox.MaxDelay <= 0 || c.Outbox.PollInterval <= 0 {
		return errors.New("outbox delays must be positive")
	}
	if c.Outbox.MaxDelay < c.Outbox.BaseDelay {
		return errors.New("outbox max delay must not be below base delay")
	}
	if c.Outbox.BatchSize <= 0 {
		return errors.New("outbox batch size must be positive")
	}
	switch c.RelayServer.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.RelayServer.PostgresDSN == "" {
			return errors.New("postgres relay backend needs RELAY_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown relay backend %q", c.RelayServer.Backend)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
