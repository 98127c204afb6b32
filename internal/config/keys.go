package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
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
		key: "server.host", typ: kString, env: "CARTBOT_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "CARTBOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "CARTBOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "catalog.base_url", typ: kString, env: "CARTBOT_CATALOG_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Catalog.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.BaseURL },
	},
	{
		key: "catalog.timeout", typ: kString, env: "CARTBOT_CATALOG_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Timeout },
	},
	{
		key: "catalog.cache_ttl", typ: kString, env: "CARTBOT_CATALOG_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Catalog.CacheTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.CacheTTL },
	},
	{
		key: "catalog.shops_page_size", typ: kInt, env: "CARTBOT_CATALOG_SHOPS_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Catalog.ShopsPageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Catalog.ShopsPageSize },
	},
	{
		key: "catalog.redis_addr", typ: kString, env: "CARTBOT_CATALOG_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Catalog.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.RedisAddr },
	},
	{
		key: "completion.provider", typ: kString, env: "CARTBOT_COMPLETION_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Completion.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.Provider },
	},
	{
		key: "completion.model", typ: kString, env: "CARTBOT_COMPLETION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Completion.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.Model },
	},
	{
		key: "completion.base_url", typ: kString, env: "CARTBOT_COMPLETION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Completion.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.BaseURL },
	},
	{
		key: "completion.timeout", typ: kString, env: "CARTBOT_COMPLETION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Completion.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.Timeout },
	},
	{
		key: "completion.api_key", typ: kString, env: "CARTBOT_COMPLETION_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Completion.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.APIKey },
	},
	{
		key: "resolver.threshold", typ: kFloat, env: "CARTBOT_RESOLVER_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Resolver.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Resolver.Threshold },
	},
	{
		key: "auth.tokens", typ: kString, env: "CARTBOT_AUTH_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Auth.Tokens = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Tokens },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CARTBOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "sync.enabled", typ: kBool, env: "CARTBOT_SYNC_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Sync.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Sync.Enabled },
	},
	{
		key: "sync.kafka_brokers", typ: kString, env: "CARTBOT_SYNC_KAFKA_BROKERS",
		apply:   func(cfg *Config, v any) { cfg.Sync.KafkaBrokers = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.KafkaBrokers },
	},
	{
		key: "sync.kafka_topic", typ: kString, env: "CARTBOT_SYNC_KAFKA_TOPIC",
		apply:   func(cfg *Config, v any) { cfg.Sync.KafkaTopic = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.KafkaTopic },
	},
	{
		key: "sync.webhook_secret", typ: kString, env: "CARTBOT_SYNC_WEBHOOK_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Sync.WebhookSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.WebhookSecret },
	},
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[WARN] "+format+"\n", args...)
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					warnf("could not parse bool from config key %s=%q: %v. Using default value.", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					warnf("could not parse float from config key %s=%q: %v. Using default value.", s.key, v, err)
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
				warnf("could not parse integer from env var %s=%q: %v. Using default value.", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				warnf("could not parse bool from env var %s=%q: %v. Using default value.", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				warnf("could not parse float from env var %s=%q: %v. Using default value.", s.env, raw, err)
			}
		}
	}
}
