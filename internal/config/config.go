package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Catalog    CatalogConfig
	Completion CompletionConfig
	Resolver   ResolverConfig
	Auth       AuthConfig
	Storage    StorageConfig
	Sync       SyncConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	Level string
}

type CatalogConfig struct {
	BaseURL       string
	Timeout       string
	CacheTTL      string
	ShopsPageSize int
	RedisAddr     string
}

type CompletionConfig struct {
	Provider string
	Model    string
	BaseURL  string
	Timeout  string
	APIKey   string
}

type ResolverConfig struct {
	Threshold float64
}

type AuthConfig struct {
	// Tokens is a comma-separated list of token=user pairs.
	Tokens string
}

type StorageConfig struct {
	DataDir string
}

type SyncConfig struct {
	Enabled       bool
	KafkaBrokers  string
	KafkaTopic    string
	WebhookSecret string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Log: LogConfig{
			Level: "info",
		},
		Catalog: CatalogConfig{
			BaseURL:       "https://brightpa.me",
			Timeout:       "10s",
			CacheTTL:      "60s",
			ShopsPageSize: 50,
		},
		Completion: CompletionConfig{
			Provider: "gemini",
			Model:    "gemini-1.5-flash",
			Timeout:  "30s",
		},
		Resolver: ResolverConfig{
			Threshold: 0.6,
		},
		Auth: AuthConfig{
			Tokens: "demo_token_123=user_authenticated_123,demo_token_456=user_authenticated_456",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Sync: SyncConfig{
			KafkaTopic: "chat-history",
		},
	}
}

// Load reads configuration from the JSON config file and applies
// environment overrides (CARTBOT_*). Secrets are read from the
// environment only. Load does not validate; the server calls Validate
// before starting so that client-side commands work without secrets.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error

	if c.Completion.APIKey == "" {
		errs = append(errs, errors.New("missing required config: completion API key. "+
			"Set it via environment variable CARTBOT_COMPLETION_API_KEY"))
	}
	switch c.Completion.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown completion.provider %q (want gemini or openai)", c.Completion.Provider))
	}
	for key, raw := range map[string]string{
		"catalog.timeout":    c.Catalog.Timeout,
		"catalog.cache_ttl":  c.Catalog.CacheTTL,
		"completion.timeout": c.Completion.Timeout,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			errs = append(errs, fmt.Errorf("invalid duration for %s: %w", key, err))
		}
	}
	if c.Resolver.Threshold <= 0 || c.Resolver.Threshold > 1 {
		errs = append(errs, fmt.Errorf("resolver.threshold must be in (0, 1], got %v", c.Resolver.Threshold))
	}

	return errors.Join(errs...)
}

// Duration parses a duration setting, returning fallback when raw is
// empty or malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// TokenTable parses Auth.Tokens into a token → user id map.
// Malformed pairs are skipped.
func (c Config) TokenTable() map[string]string {
	table := make(map[string]string)
	for _, pair := range strings.Split(c.Auth.Tokens, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if token == "" || user == "" {
			continue
		}
		table[token] = user
	}
	return table
}

// KafkaBrokerList splits Sync.KafkaBrokers on commas.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.Sync.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
