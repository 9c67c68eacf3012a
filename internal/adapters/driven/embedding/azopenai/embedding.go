// Package azopenai provides an embedding service adapter for Azure
// OpenAI deployments.
package azopenai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// Default configuration values.
const (
	DefaultAPIVersion = "2024-02-01"
	DefaultTimeout    = 60 * time.Second
	DefaultDimensions = 1536

	// DefaultBatchSize is the largest input batch sent per request.
	DefaultBatchSize = 16

	// DefaultRequestsPerSecond throttles embedding calls below the
	// service's token-per-minute quota.
	DefaultRequestsPerSecond = 4
)

// Config holds configuration for the Azure OpenAI embedding service.
type Config struct {
	// Endpoint is the resource endpoint, e.g. https://myres.openai.azure.com.
	Endpoint string

	// Deployment is the embedding model deployment name (required).
	Deployment string

	// APIKey authenticates requests (required).
	APIKey string

	// APIVersion is the service API version.
	APIVersion string

	// Dimensions is the embedding vector size.
	Dimensions int

	// BatchSize caps inputs per request.
	BatchSize int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RequestsPerSecond throttles outgoing requests. Zero uses the default.
	RequestsPerSecond float64
}

// EmbeddingService generates embeddings via an Azure OpenAI deployment.
type EmbeddingService struct {
	client     *http.Client
	limiter    *rate.Limiter
	endpoint   string
	deployment string
	apiKey     string
	apiVersion string
	dimensions int
	batchSize  int
}

type embeddingRequest struct {
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewEmbeddingService creates a new Azure OpenAI embedding service.
func NewEmbeddingService(cfg Config) (*EmbeddingService, error) {
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
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}

	return &EmbeddingService{
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		endpoint:   cfg.Endpoint,
		deployment: cfg.Deployment,
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
	}, nil
}

// Embed generates a vector embedding for the given text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("azopenai: no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for the texts, splitting them into
// service-sized batches and preserving input order.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := s.embedOne(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, nil
}

func (s *EmbeddingService) embedOne(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jsonBody, err := json.Marshal(embeddingRequest{Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		s.endpoint, s.deployment, s.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("azopenai: %w: %s", domain.ErrQuotaExhausted, string(body))
	}

	var embedResp embeddingResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if embedResp.Error != nil {
		return nil, fmt.Errorf("azopenai error: %s", embedResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azopenai error (status %d): %s", resp.StatusCode, string(body))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embedResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			continue
		}
		embedding := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			embedding[i] = float32(v)
		}
		embeddings[data.Index] = embedding
	}
	return embeddings, nil
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// Close releases resources.
func (s *EmbeddingService) Close() error {
	return nil
}
