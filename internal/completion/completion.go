// Package completion calls hosted text-generation models.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

var (
	ErrQuotaExceeded = errors.New("completion quota exceeded")
	ErrUnauthorized  = errors.New("completion unauthorized")
)

// Completer turns a prompt into response text.
type Completer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// New returns the Completer for cfg.Provider.
func New(cfg Config) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion API key is not configured")
	}
	switch cfg.Provider {
	case ProviderGemini, "":
		if cfg.BaseURL != "" {
			return NewGeminiWithBaseURL(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout), nil
		}
		return NewGemini(cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case ProviderOpenAI:
		model := cfg.Model
		if strings.HasPrefix(model, "gemini-") {
			model = ""
		}
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}

// rateLimitError is returned on HTTP 429 and retried.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func (e *rateLimitError) Unwrap() error { return ErrQuotaExceeded }

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}
