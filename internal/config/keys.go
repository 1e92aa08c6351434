package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "TECHDIGEST_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "TECHDIGEST_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TECHDIGEST_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "embedding.provider", typ: kString, env: "TECHDIGEST_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "TECHDIGEST_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.base_url", typ: kString, env: "TECHDIGEST_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.timeout", typ: kDuration, env: "TECHDIGEST_EMBEDDING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.Timeout },
	},
	{
		key: "embedding.api_key", typ: kString, env: "TECHDIGEST_EMBEDDING_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.APIKey },
	},
	{
		key: "discord.api_base_url", typ: kString, env: "TECHDIGEST_DISCORD_API_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Discord.APIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Discord.APIBaseURL },
	},
	{
		key: "discord.bot_token", typ: kString, env: "TECHDIGEST_DISCORD_BOT_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Discord.BotToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Discord.BotToken },
	},
	{
		key: "cron.secret", typ: kString, env: "TECHDIGEST_CRON_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Cron.Secret = v.(string) },
		extract: func(cfg Config) any { return cfg.Cron.Secret },
	},
	{
		key: "sources.file", typ: kString, env: "TECHDIGEST_SOURCES_FILE",
		apply:   func(cfg *Config, v any) { cfg.Sources.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Sources.File },
	},
	{
		key: "sources.fetch_timeout", typ: kDuration, env: "TECHDIGEST_SOURCES_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Sources.FetchTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sources.FetchTimeout },
	},
	{
		key: "delivery.async_timeout", typ: kDuration, env: "TECHDIGEST_DELIVERY_ASYNC_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Delivery.AsyncTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Delivery.AsyncTimeout },
	},
	{
		key: "delivery.poll_interval", typ: kDuration, env: "TECHDIGEST_DELIVERY_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Delivery.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Delivery.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "TECHDIGEST_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
