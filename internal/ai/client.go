package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"llm-branch/pkg/branch"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI implements branch.Backend against an OpenAI-compatible chat
// completions endpoint.
type OpenAI struct {
	httpClient  *http.Client
	baseURL     string
	temperature float64
	maxTokens   int
}

// NewOpenAI constructs an OpenAI backend.
func NewOpenAI(cfg Config) *OpenAI {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAI{
		httpClient:  &http.Client{Timeout: normalizeTimeout(cfg.Timeout)},
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Name implements branch.Backend.
func (c *OpenAI) Name() string {
	return "OpenAI"
}

// Enabled reports whether the client can make outbound calls.
func (c *OpenAI) Enabled() bool {
	return c != nil && c.httpClient != nil && c.baseURL != ""
}

// Generate implements branch.Backend.
func (c *OpenAI) Generate(ctx context.Context, gen branch.Generation) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	body, err := json.Marshal(c.buildPayload(gen))
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(gen.Credential))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "openai request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error.Message != "" {
			return "", errors.Newf("openai status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", errors.Newf("openai status %d", resp.StatusCode)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openai empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

func (c *OpenAI) buildPayload(gen branch.Generation) map[string]any {
	payload := map[string]any{
		"model": gen.Model,
		"messages": []map[string]string{
			{"role": "user", "content": gen.Prompt},
		},
		"temperature": c.temperature,
	}
	if c.maxTokens > 0 {
		payload["max_tokens"] = c.maxTokens
	}
	return payload
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
