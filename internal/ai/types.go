package ai

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"llm-branch/pkg/branch"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	defaultTimeout = 30 * time.Second
)

var (
	ErrDisabled        = errors.New("ai backend disabled")
	ErrUnknownProvider = errors.New("unknown ai provider")
)

// Config holds backend transport settings. Model and credential are supplied
// per decision, not here.
type Config struct {
	Provider    string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// New returns the backend for cfg.Provider. An empty provider selects Gemini.
func New(cfg Config) (branch.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		return NewGemini(cfg), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	default:
		return nil, errors.Wrapf(ErrUnknownProvider, "provider %q", cfg.Provider)
	}
}

func normalizeTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultTimeout
	}
	return timeout
}
