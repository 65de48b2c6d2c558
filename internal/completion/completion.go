// Package completion answers /ai prompts through an OpenAI-compatible API.
package completion

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/metrics"
)

// Fallback answers. Complete never returns an error; it returns one of these.
const (
	FallbackServerError = "AI server error, please try again later."
	FallbackNoAnswer    = "Could not get an answer from the AI."
)

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 400
)

// Completer turns a prompt into a best-effort answer.
type Completer interface {
	Enabled() bool
	Complete(ctx context.Context, prompt string) string
}

// Config configures an OpenAIClient
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // OpenAI-compatible endpoint, "/v1" is appended when missing
	MaxTokens  int
	HTTPClient *http.Client
}

// OpenAIClient is a Completer backed by the chat completions endpoint.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIClient creates a client. An empty API key yields a disabled client.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	c := &OpenAIClient{model: model, maxTokens: maxTokens}

	if strings.TrimSpace(cfg.APIKey) == "" {
		L_info("completion: no API key, /ai disabled")
		return c
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if baseURL := cfg.BaseURL; baseURL != "" {
		if !strings.HasSuffix(baseURL, "/v1") && !strings.HasSuffix(baseURL, "/v1/") {
			baseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
		}
		config.BaseURL = baseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}
	c.client = openai.NewClientWithConfig(config)

	L_debug("completion: client ready", "model", model, "maxTokens", maxTokens, "baseURL", config.BaseURL)
	return c
}

// Enabled reports whether an API key was configured.
func (c *OpenAIClient) Enabled() bool {
	return c != nil && c.client != nil
}

// Complete sends prompt as a single user message and returns the trimmed answer.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) string {
	if !c.Enabled() {
		metrics.Completions.WithLabelValues(metrics.ResultFallback).Inc()
		return FallbackServerError
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			L_error("completion: api error",
				"model", c.model,
				"statusCode", apiErr.HTTPStatusCode,
				"code", apiErr.Code,
				"type", apiErr.Type,
				"message", apiErr.Message,
			)
		} else {
			L_error("completion: request failed", "model", c.model, "error", err)
		}
		metrics.Completions.WithLabelValues(metrics.ResultError).Inc()
		return FallbackServerError
	}

	if len(resp.Choices) == 0 {
		metrics.Completions.WithLabelValues(metrics.ResultFallback).Inc()
		return FallbackNoAnswer
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		metrics.Completions.WithLabelValues(metrics.ResultFallback).Inc()
		return FallbackNoAnswer
	}

	metrics.Completions.WithLabelValues(metrics.ResultOK).Inc()
	L_debug("completion: answered", "model", c.model, "promptLen", len(prompt), "answerLen", len(answer),
		"totalTokens", resp.Usage.TotalTokens)
	return answer
}
