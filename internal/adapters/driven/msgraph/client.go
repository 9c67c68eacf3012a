// Package msgraph provides the Microsoft Graph client shared by the
// SharePoint change feed and the directory adapter, authenticated with the
// OAuth2 client-credentials flow.
package msgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// Default configuration values.
const (
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	DefaultScope   = "https://graph.microsoft.com/.default"
	DefaultTimeout = 30 * time.Second

	tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// Config holds Graph API credentials for an app-only (daemon) client.
type Config struct {
	// TenantID is the directory tenant (required).
	TenantID string

	// ClientID and ClientSecret identify the registered application
	// (required).
	ClientID     string
	ClientSecret string

	// BaseURL overrides the Graph endpoint, mainly for tests.
	BaseURL string

	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// Client is an authenticated Microsoft Graph HTTP client.
type Client struct {
	http    *http.Client
	baseURL string
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a Graph client. The token source refreshes app tokens
// transparently.
func NewClient(cfg Config) (*Client, error) {
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("msgraph: tenant ID is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("msgraph: client credentials are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	credentials := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLFormat, cfg.TenantID),
		Scopes:       []string{DefaultScope},
	}

	httpClient := credentials.Client(context.Background())
	httpClient.Timeout = cfg.Timeout

	return &Client{
		http:    httpClient,
		baseURL: cfg.BaseURL,
	}, nil
}

// NewClientWithHTTP builds a client around an existing HTTP client, for
// tests against a local server.
func NewClientWithHTTP(httpClient *http.Client, baseURL string) *Client {
	return &Client{http: httpClient, baseURL: baseURL}
}

// BaseURL returns the Graph endpoint this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON issues a GET and decodes the JSON response into out. The URL may
// be a path relative to the Graph endpoint or an absolute continuation URL.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("msgraph: decode response: %w", err)
	}
	return nil
}

// GetBytes issues a GET and returns the raw response body, following the
// 302 redirect Graph issues for content downloads.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if len(url) > 0 && url[0] == '/' {
		url = c.baseURL + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("msgraph: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("msgraph: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("msgraph: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("msgraph: %s: %w", url, domain.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("msgraph: %w: %s", domain.ErrQuotaExhausted, string(body))
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		var graphErr graphError
		if err := json.Unmarshal(body, &graphErr); err == nil && graphErr.Error.Code != "" {
			return nil, fmt.Errorf("msgraph: %s: %s", graphErr.Error.Code, graphErr.Error.Message)
		}
		return nil, fmt.Errorf("msgraph error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
