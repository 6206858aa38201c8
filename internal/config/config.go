package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Webhook WebhookConfig
	Gateway GatewayConfig
	Notify  NotifyConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type StorageConfig struct {
	Driver      string // "sqlite" or "postgres"
	DataDir     string
	PostgresURL string
}

type WebhookConfig struct {
	APIKey string
}

type GatewayConfig struct {
	URL        string
	Token      string
	SessionKey string
}

type NotifyConfig struct {
	PollInterval time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		Gateway: GatewayConfig{
			SessionKey: "agent:main:main",
		},
		Notify: NotifyConfig{
			PollInterval: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/missionctl/config.json, then applies MISSIONCTL_*
// environment overrides. Secrets never live in the config file: they come
// from the environment or from $XDG_DATA_HOME/missionctl/secrets.json.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), secretsFile{})
}

// secretReader abstracts the secrets store for testing.
type secretReader interface {
	Get(account string) (string, error)
}

func loadWith(b ConfigBackend, sr secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := sr.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Webhook.APIKey == "" {
		return fmt.Errorf("missing required config: webhook API key. " +
			"Set it via environment variable MISSIONCTL_WEBHOOK_API_KEY " +
			"or `missionctl config set --secret webhook.api_key <value>`")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite":
	case "postgres":
		if cfg.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.driver is postgres but MISSIONCTL_STORAGE_POSTGRES_URL is not set")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q (want sqlite or postgres)", cfg.Storage.Driver)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	return nil
}
