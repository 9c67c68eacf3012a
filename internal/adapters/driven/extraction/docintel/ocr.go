// Package docintel provides an OCR adapter for the Azure Document
// Intelligence prebuilt-read model.
package docintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
)

// Ensure OCRService implements the interface.
var _ driven.OCRService = (*OCRService)(nil)

// Default configuration values.
const (
	DefaultAPIVersion = "2024-02-29-preview"
	DefaultTimeout    = 60 * time.Second

	// DefaultPollInterval paces the result poll loop. The service reports
	// most single documents done within a few seconds.
	DefaultPollInterval = 2 * time.Second

	// DefaultMaxPollTime bounds how long one analysis is awaited.
	DefaultMaxPollTime = 5 * time.Minute

	// DefaultRequestsPerSecond throttles analyze submissions.
	DefaultRequestsPerSecond = 1
)

// Config holds configuration for the Document Intelligence service.
type Config struct {
	// Endpoint is the resource endpoint (required).
	Endpoint string

	// APIKey authenticates requests (required).
	APIKey string

	// APIVersion is the service API version.
	APIVersion string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// PollInterval is the delay between result polls.
	PollInterval time.Duration

	// MaxPollTime bounds the total wait for one analysis.
	MaxPollTime time.Duration

	// RequestsPerSecond throttles analyze submissions. Zero uses the default.
	RequestsPerSecond float64
}

// OCRService recognises document text through the asynchronous
// prebuilt-read analyze operation, hiding the poll loop from callers.
type OCRService struct {
	client       *http.Client
	limiter      *rate.Limiter
	endpoint     string
	apiKey       string
	apiVersion   string
	pollInterval time.Duration
	maxPollTime  time.Duration
}

type analyzeResponse struct {
	Status        string `json:"status"`
	AnalyzeResult *struct {
		Pages []struct {
			PageNumber int `json:"pageNumber"`
			Lines      []struct {
				Content string `json:"content"`
			} `json:"lines"`
			Words []struct {
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"pages"`
	} `json:"analyzeResult"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOCRService creates a new Document Intelligence OCR service.
func NewOCRService(cfg Config) (*OCRService, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("docintel: endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("docintel: API key is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollTime == 0 {
		cfg.MaxPollTime = DefaultMaxPollTime
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}

	return &OCRService{
		client:       &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		endpoint:     cfg.Endpoint,
		apiKey:       cfg.APIKey,
		apiVersion:   cfg.APIVersion,
		pollInterval: cfg.PollInterval,
		maxPollTime:  cfg.MaxPollTime,
	}, nil
}

// Analyze submits the document for recognition and waits for the result.
func (s *OCRService) Analyze(ctx context.Context, content []byte) ([]domain.ExtractedPage, error) {
	operationURL, err := s.submit(ctx, content)
	if err != nil {
		return nil, err
	}
	return s.await(ctx, operationURL)
}

func (s *OCRService) submit(ctx context.Context, content []byte) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/documentintelligence/documentModels/prebuilt-read:analyze?api-version=%s",
		s.endpoint, s.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", s.apiKey)

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
		return "", fmt.Errorf("docintel: %w: %s", domain.ErrQuotaExhausted, string(body))
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("docintel analyze error (status %d): %s", resp.StatusCode, string(body))
	}

	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return "", fmt.Errorf("docintel: missing Operation-Location header")
	}
	return operationURL, nil
}

func (s *OCRService) await(ctx context.Context, operationURL string) ([]domain.ExtractedPage, error) {
	deadline := time.Now().Add(s.maxPollTime)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		result, done, err := s.poll(ctx, operationURL)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("docintel: analysis did not finish within %s", s.maxPollTime)
		}
	}
}

func (s *OCRService) poll(ctx context.Context, operationURL string) ([]domain.ExtractedPage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		// Back off but keep waiting; the submission already went through.
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("docintel poll error (status %d): %s", resp.StatusCode, string(body))
	}

	var analyzeResp analyzeResponse
	if err := json.Unmarshal(body, &analyzeResp); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}

	switch analyzeResp.Status {
	case "succeeded":
	case "failed":
		msg := "analysis failed"
		if analyzeResp.Error != nil {
			msg = analyzeResp.Error.Message
		}
		return nil, false, fmt.Errorf("docintel: %s", msg)
	default:
		return nil, false, nil
	}

	if analyzeResp.AnalyzeResult == nil {
		return nil, false, fmt.Errorf("docintel: succeeded without a result")
	}

	pages := make([]domain.ExtractedPage, 0, len(analyzeResp.AnalyzeResult.Pages))
	for _, page := range analyzeResp.AnalyzeResult.Pages {
		lines := make([]string, 0, len(page.Lines))
		for _, line := range page.Lines {
			lines = append(lines, line.Content)
		}

		confidence := 1.0
		if len(page.Words) > 0 {
			sum := 0.0
			for _, word := range page.Words {
				sum += word.Confidence
			}
			confidence = sum / float64(len(page.Words))
		}

		pages = append(pages, domain.ExtractedPage{
			PageNumber: page.PageNumber,
			Text:       strings.Join(lines, "\n"),
			Confidence: confidence,
			Method:     domain.ExtractionOCR,
		})
	}
	return pages, true, nil
}
