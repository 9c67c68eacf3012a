// Package azopenai provides a chat-completion adapter for Azure OpenAI
// deployments.
package azopenai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure LLMService implements the interface.
var _ driven.LLMService = (*LLMService)(nil)

// Default configuration values.
const (
	DefaultAPIVersion = "2024-02-01"
	DefaultTimeout    = 120 * time.Second
	DefaultMaxTokens  = 1024
)

// Config holds configuration for the Azure OpenAI chat service.
type Config struct {
	// Endpoint is the resource endpoint, e.g. https://myres.openai.azure.com.
	Endpoint string

	// Deployment is the chat model deployment name (required).
	Deployment string

	// APIKey authenticates requests (required).
	APIKey string

	// APIVersion is the service API version.
	APIVersion string

	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// LLMService generates completions via an Azure OpenAI chat deployment.
type LLMService struct {
	client     *http.Client
	endpoint   string
	deployment string
	apiKey     string
	apiVersion string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewLLMService creates a new Azure OpenAI chat-completion service.
func NewLLMService(cfg Config) (*LLMService, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azopenai: endpoint is required")
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azopenai: deployment is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("azopenai: API key is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &LLMService{
		client:     &http.Client{Timeout: cfg.Timeout},
		endpoint:   cfg.Endpoint,
		deployment: cfg.Deployment,
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
	}, nil
}

// Complete sends a system prompt and a user message and returns the model's
// text.
func (s *LLMService) Complete(ctx context.Context, system, user string, opts driven.CompleteOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	jsonBody, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		s.endpoint, s.deployment, s.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("azopenai: %w: %s", domain.ErrQuotaExhausted, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("azopenai error: %s", chatResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("azopenai error (status %d): %s", resp.StatusCode, string(body))
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("azopenai: no completion returned")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}
