package ai

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"google.golang.org/genai"

	"llm-branch/pkg/branch"
)

// Gemini implements branch.Backend against Google's Gemini API.
type Gemini struct {
	httpClient  *http.Client
	baseURL     string
	temperature float32
	maxTokens   int32
}

// NewGemini constructs a Gemini backend. A genai client is created for every
// call because the credential travels with the decision.
func NewGemini(cfg Config) *Gemini {
	return &Gemini{
		httpClient:  &http.Client{Timeout: normalizeTimeout(cfg.Timeout)},
		baseURL:     strings.TrimSpace(cfg.BaseURL),
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}
}

// Name implements branch.Backend.
func (g *Gemini) Name() string {
	return "Gemini"
}

// Enabled reports whether the backend can make outbound calls.
func (g *Gemini) Enabled() bool {
	return g != nil && g.httpClient != nil
}

// Generate implements branch.Backend.
func (g *Gemini) Generate(ctx context.Context, gen branch.Generation) (string, error) {
	if !g.Enabled() {
		return "", ErrDisabled
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     gen.Credential,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	}
	if g.baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return "", errors.Wrap(err, "create genai client")
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if g.maxTokens > 0 {
		genCfg.MaxOutputTokens = g.maxTokens
	}

	resp, err := client.Models.GenerateContent(ctx, gen.Model, genai.Text(gen.Prompt), genCfg)
	if err != nil {
		return "", errors.Wrap(err, "gemini generate content")
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini empty response")
	}
	return resp.Text(), nil
}
