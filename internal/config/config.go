package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Discord   DiscordConfig
	Cron      CronConfig
	Sources   SourcesConfig
	Delivery  DeliveryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

type EmbeddingConfig struct {
	Provider string // openai, gemini or ollama
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

type DiscordConfig struct {
	BotToken   string
	APIBaseURL string
}

type CronConfig struct {
	Secret string
}

type SourcesConfig struct {
	// File is an optional YAML file replacing the built-in feed list.
	File         string
	FetchTimeout time.Duration
}

type DeliveryConfig struct {
	AsyncTimeout time.Duration
	PollInterval time.Duration
}

type LogConfig struct {
	Level string
}

// Addr returns the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Timeout:  30 * time.Second,
		},
		Discord: DiscordConfig{
			APIBaseURL: "https://discord.com/api/v10",
		},
		Sources: SourcesConfig{
			FetchTimeout: 15 * time.Second,
		},
		Delivery: DeliveryConfig{
			AsyncTimeout: 5 * time.Minute,
			PollInterval: 2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file, environment variables
// and the secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/techdigest/config.json and
// secrets at $XDG_DATA_HOME/techdigest/secrets.json. Environment variables
// (TECHDIGEST_*) override both. A cron secret is generated and persisted on
// first use when none is configured.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), newSecretsFile(secretsFilePath()))
}

// secretStore abstracts secret persistence for testing.
type secretStore interface {
	Get(account string) (string, error)
	Set(account, value string) error
}

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := ss.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.Cron.Secret == "" {
		secret := uuid.New().String()
		if err := ss.Set("cron.secret", secret); err != nil {
			return Config{}, fmt.Errorf("persisting generated cron secret: %w", err)
		}
		cfg.Cron.Secret = secret
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Embedding.Provider {
	case "openai", "gemini", "ollama":
	default:
		return fmt.Errorf("invalid embedding.provider %q: want openai, gemini or ollama", cfg.Embedding.Provider)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Delivery.AsyncTimeout <= 0 {
		return fmt.Errorf("delivery.async_timeout must be positive")
	}
	return nil
}
