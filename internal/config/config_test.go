package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadFromPath(t *testing.T, path string) Config {
	t.Helper()
	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

// TestDefaults verifies all default values are applied when the config file is empty.
func TestDefaults(t *testing.T) {
	path := writeTempConfig(t, `{}`)
	t.Setenv("CARTBOT_COMPLETION_API_KEY", "")

	cfg := loadFromPath(t, path)

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Catalog.Timeout != "10s" {
		t.Errorf("Catalog.Timeout = %q, want %q", cfg.Catalog.Timeout, "10s")
	}
	if cfg.Catalog.CacheTTL != "60s" {
		t.Errorf("Catalog.CacheTTL = %q, want %q", cfg.Catalog.CacheTTL, "60s")
	}
	if cfg.Completion.Provider != "gemini" {
		t.Errorf("Completion.Provider = %q, want %q", cfg.Completion.Provider, "gemini")
	}
	if cfg.Completion.Model != "gemini-1.5-flash" {
		t.Errorf("Completion.Model = %q, want %q", cfg.Completion.Model, "gemini-1.5-flash")
	}
	if cfg.Resolver.Threshold != 0.6 {
		t.Errorf("Resolver.Threshold = %v, want 0.6", cfg.Resolver.Threshold)
	}
	if cfg.Sync.Enabled {
		t.Error("Sync.Enabled = true, want false")
	}
	if cfg.Sync.KafkaTopic != "chat-history" {
		t.Errorf("Sync.KafkaTopic = %q, want %q", cfg.Sync.KafkaTopic, "chat-history")
	}
}

// TestFileValues verifies that every type of key is read from the JSON file.
func TestFileValues(t *testing.T) {
	path := writeTempConfig(t, `{
		"server.port": 9100,
		"catalog.base_url": "http://backend.local",
		"catalog.shops_page_size": 20,
		"resolver.threshold": 0.75,
		"sync.enabled": true,
		"completion.api_key": "ignored-secret"
	}`)
	t.Setenv("CARTBOT_COMPLETION_API_KEY", "")

	cfg := loadFromPath(t, path)

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Catalog.BaseURL != "http://backend.local" {
		t.Errorf("Catalog.BaseURL = %q", cfg.Catalog.BaseURL)
	}
	if cfg.Catalog.ShopsPageSize != 20 {
		t.Errorf("Catalog.ShopsPageSize = %d, want 20", cfg.Catalog.ShopsPageSize)
	}
	if cfg.Resolver.Threshold != 0.75 {
		t.Errorf("Resolver.Threshold = %v, want 0.75", cfg.Resolver.Threshold)
	}
	if !cfg.Sync.Enabled {
		t.Error("Sync.Enabled = false, want true")
	}
	if cfg.Completion.APIKey != "" {
		t.Errorf("secret read from file: APIKey = %q, want empty", cfg.Completion.APIKey)
	}
}

// TestEnvOverride verifies that environment variables override file values.
func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `{"server.port": 9100, "completion.model": "file-model"}`)

	t.Setenv("CARTBOT_SERVER_PORT", "9200")
	t.Setenv("CARTBOT_COMPLETION_MODEL", "env-model")
	t.Setenv("CARTBOT_COMPLETION_API_KEY", "env-key")
	t.Setenv("CARTBOT_RESOLVER_THRESHOLD", "0.8")

	cfg := loadFromPath(t, path)

	if cfg.Server.Port != 9200 {
		t.Errorf("Server.Port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Completion.Model != "env-model" {
		t.Errorf("Completion.Model = %q, want %q", cfg.Completion.Model, "env-model")
	}
	if cfg.Completion.APIKey != "env-key" {
		t.Errorf("Completion.APIKey = %q, want %q", cfg.Completion.APIKey, "env-key")
	}
	if cfg.Resolver.Threshold != 0.8 {
		t.Errorf("Resolver.Threshold = %v, want 0.8", cfg.Resolver.Threshold)
	}
}

// TestInvalidEnvIgnored verifies a malformed env value keeps the default.
func TestInvalidEnvIgnored(t *testing.T) {
	path := writeTempConfig(t, `{}`)
	t.Setenv("CARTBOT_SERVER_PORT", "not-a-number")

	cfg := loadFromPath(t, path)
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default 8000", cfg.Server.Port)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := defaults()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}
}

func TestValidate_BadValues(t *testing.T) {
	cfg := defaults()
	cfg.Completion.APIKey = "k"
	cfg.Completion.Provider = "bard"
	cfg.Catalog.CacheTTL = "forever"
	cfg.Resolver.Threshold = 1.5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"completion.provider", "catalog.cache_ttl", "resolver.threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := defaults()
	cfg.Completion.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestTokenTable(t *testing.T) {
	cfg := defaults()
	cfg.Auth.Tokens = "a=alice, b = bob ,broken,=nobody,c="

	table := cfg.TokenTable()
	if len(table) != 2 {
		t.Fatalf("len(table) = %d, want 2: %v", len(table), table)
	}
	if table["a"] != "alice" || table["b"] != "bob" {
		t.Errorf("table = %v", table)
	}
}

func TestDefaultTokenTable(t *testing.T) {
	table := defaults().TokenTable()
	if table["demo_token_123"] != "user_authenticated_123" {
		t.Errorf("demo_token_123 -> %q", table["demo_token_123"])
	}
	if table["demo_token_456"] != "user_authenticated_456" {
		t.Errorf("demo_token_456 -> %q", table["demo_token_456"])
	}
}

func TestKafkaBrokerList(t *testing.T) {
	cfg := defaults()
	if got := cfg.KafkaBrokerList(); len(got) != 0 {
		t.Errorf("KafkaBrokerList() = %v, want empty", got)
	}
	cfg.Sync.KafkaBrokers = "k1:9092, k2:9092,"
	got := cfg.KafkaBrokerList()
	if len(got) != 2 || got[0] != "k1:9092" || got[1] != "k2:9092" {
		t.Errorf("KafkaBrokerList() = %v", got)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("15s", time.Second); got != 15*time.Second {
		t.Errorf("Duration(15s) = %v", got)
	}
	if got := Duration("bogus", 3*time.Second); got != 3*time.Second {
		t.Errorf("Duration(bogus) = %v, want fallback", got)
	}
	if got := Duration("", 3*time.Second); got != 3*time.Second {
		t.Errorf("Duration(\"\") = %v, want fallback", got)
	}
}

func TestSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	b := newFileBackend(path)

	if err := setKeyWith(b, "server.port", "9300"); err != nil {
		t.Fatalf("setKeyWith(server.port): %v", err)
	}
	if err := setKeyWith(b, "sync.enabled", "true"); err != nil {
		t.Fatalf("setKeyWith(sync.enabled): %v", err)
	}
	if err := setKeyWith(b, "resolver.threshold", "0.7"); err != nil {
		t.Fatalf("setKeyWith(resolver.threshold): %v", err)
	}

	cfg := loadFromPath(t, path)
	if cfg.Server.Port != 9300 {
		t.Errorf("Server.Port = %d, want 9300", cfg.Server.Port)
	}
	if !cfg.Sync.Enabled {
		t.Error("Sync.Enabled = false, want true")
	}
	if cfg.Resolver.Threshold != 0.7 {
		t.Errorf("Resolver.Threshold = %v, want 0.7", cfg.Resolver.Threshold)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.json"))

	if err := setKeyWith(b, "completion.api_key", "x"); err == nil {
		t.Error("expected error setting a secret")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
}

func TestShowAllSkipsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Completion.APIKey = "super-secret"

	for _, k := range ShowAll(cfg) {
		if k.Key == "completion.api_key" || k.Key == "sync.webhook_secret" {
			t.Errorf("ShowAll exposed secret key %s", k.Key)
		}
		if k.Value == "super-secret" {
			t.Error("ShowAll exposed secret value")
		}
	}
}
