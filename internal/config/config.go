// Package config loads and validates the application configuration from a
// TOML file, a .env file and environment variables. Secrets always come
// from the environment; the TOML file carries structure only.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Feed providers.
const (
	ProviderSharePoint = "sharepoint"
	ProviderGDrive     = "gdrive"
)

// Search index providers.
const (
	SearchAzure  = "azsearch"
	SearchMeili  = "meili"
	SearchMemory = "memory"
)

// Config is the full application configuration.
type Config struct {
	Libraries []LibraryConfig `toml:"libraries"`
	Storage   StorageConfig   `toml:"storage"`
	Directory DirectoryConfig `toml:"directory"`
	Search    SearchConfig    `toml:"search"`
	Embedding EmbeddingConfig `toml:"embedding"`
	LLM       LLMConfig       `toml:"llm"`
	OCR       OCRConfig       `toml:"ocr"`
	Sync      SyncConfig      `toml:"sync"`
	Query     QueryConfig     `toml:"query"`
}

// LibraryConfig describes one synced document library.
type LibraryConfig struct {
	ID       string `toml:"id"`
	Provider string `toml:"provider"`

	// SiteID and DriveID locate a SharePoint library.
	SiteID  string `toml:"site_id"`
	DriveID string `toml:"drive_id"`

	// FolderID locates a Google Drive folder.
	FolderID string `toml:"folder_id"`

	// Department and DocType are stamped onto every document from this
	// library when the store itself carries no classification.
	Department string `toml:"department"`
	DocType    string `toml:"doc_type"`
}

// Validate validates one library entry.
func (c *LibraryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderSharePoint, ProviderGDrive)),
	)
}

// StorageConfig holds the local state database location.
type StorageConfig struct {
	Path string `toml:"path"`
}

// DirectoryConfig holds identity provider credentials. Secrets come from
// HRCOPILOT_TENANT_ID / HRCOPILOT_CLIENT_ID / HRCOPILOT_CLIENT_SECRET.
type DirectoryConfig struct {
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"-"`
}

// SearchConfig holds the hosted search index settings. The API key comes
// from HRCOPILOT_SEARCH_API_KEY.
type SearchConfig struct {
	Provider  string `toml:"provider"`
	Endpoint  string `toml:"endpoint"`
	IndexName string `toml:"index_name"`
	APIKey    string `toml:"-"`

	// SemanticConfig names the semantic ranking configuration, when the
	// provider supports one.
	SemanticConfig string `toml:"semantic_config"`
}

// Validate validates the search settings.
func (c *SearchConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(SearchAzure, SearchMeili, SearchMemory)),
	); err != nil {
		return err
	}
	if c.Provider != SearchMemory && c.Endpoint == "" {
		return fmt.Errorf("search: provider %q requires an endpoint", c.Provider)
	}
	return nil
}

// EmbeddingConfig holds the embedding service settings. The API key comes
// from HRCOPILOT_EMBEDDING_API_KEY.
type EmbeddingConfig struct {
	// Disabled skips embedding entirely; the index must vectorize content
	// itself.
	Disabled   bool   `toml:"disabled"`
	Endpoint   string `toml:"endpoint"`
	Deployment string `toml:"deployment"`
	APIKey     string `toml:"-"`
	Dimensions int    `toml:"dimensions"`
	BatchSize  int    `toml:"batch_size"`
}

// LLMConfig holds the completion service settings. The API key comes from
// HRCOPILOT_LLM_API_KEY.
type LLMConfig struct {
	Endpoint   string `toml:"endpoint"`
	Deployment string `toml:"deployment"`
	APIKey     string `toml:"-"`
	MaxTokens  int    `toml:"max_tokens"`
}

// OCRConfig holds the document analysis service settings. The API key
// comes from HRCOPILOT_OCR_API_KEY.
type OCRConfig struct {
	Disabled bool   `toml:"disabled"`
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"-"`
}

// SyncConfig tunes the ingestion cycle.
type SyncConfig struct {
	Workers       int `toml:"workers"`
	RetryAttempts int `toml:"retry_attempts"`
	// ItemTimeoutSeconds bounds each attempt on one document.
	ItemTimeoutSeconds int `toml:"item_timeout_seconds"`
}

// QueryConfig tunes retrieval.
type QueryConfig struct {
	RetrieveTop    int     `toml:"retrieve_top"`
	AnswerTop      int     `toml:"answer_top"`
	FreshnessDays  int     `toml:"freshness_days"`
	FreshnessBoost float64 `toml:"freshness_boost"`
}

// Validate validates the whole configuration.
func (c *Config) Validate() error {
	if len(c.Libraries) == 0 {
		return fmt.Errorf("config: at least one library must be configured")
	}
	seen := make(map[string]struct{}, len(c.Libraries))
	for i := range c.Libraries {
		if err := c.Libraries[i].Validate(); err != nil {
			return fmt.Errorf("library %d: %w", i, err)
		}
		if _, ok := seen[c.Libraries[i].ID]; ok {
			return fmt.Errorf("library %q: duplicate id", c.Libraries[i].ID)
		}
		seen[c.Libraries[i].ID] = struct{}{}
	}
	return c.Search.Validate()
}

// Library returns the configured library by ID.
func (c *Config) Library(id string) (*LibraryConfig, bool) {
	for i := range c.Libraries {
		if c.Libraries[i].ID == id {
			return &c.Libraries[i], true
		}
	}
	return nil, false
}

// LibraryIDs returns the configured library IDs in order.
func (c *Config) LibraryIDs() []string {
	ids := make([]string, len(c.Libraries))
	for i := range c.Libraries {
		ids[i] = c.Libraries[i].ID
	}
	return ids
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".hrcopilot", "config.toml")
}

// Load reads the configuration file, applies defaults and environment
// overrides, and validates the result. A .env file next to the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	// Missing .env is fine; explicit env vars win over it.
	_ = godotenv.Load()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewDefaultConfig returns a Config with defaults filled in.
func NewDefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			Path: filepath.Join(home, ".hrcopilot", "state.db"),
		},
		Search: SearchConfig{
			Provider: SearchMemory,
		},
		Embedding: EmbeddingConfig{
			Dimensions: 1536,
			BatchSize:  16,
		},
		LLM: LLMConfig{
			MaxTokens: 1024,
		},
		Sync: SyncConfig{
			Workers:            4,
			RetryAttempts:      3,
			ItemTimeoutSeconds: 60,
		},
		Query: QueryConfig{
			RetrieveTop:    20,
			AnswerTop:      5,
			FreshnessDays:  180,
			FreshnessBoost: 0.1,
		},
	}
}

// applyEnv copies secrets and overrides from the environment.
func (c *Config) applyEnv() {
	setIfPresent := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setIfPresent(&c.Directory.TenantID, "HRCOPILOT_TENANT_ID")
	setIfPresent(&c.Directory.ClientID, "HRCOPILOT_CLIENT_ID")
	setIfPresent(&c.Directory.ClientSecret, "HRCOPILOT_CLIENT_SECRET")
	setIfPresent(&c.Search.APIKey, "HRCOPILOT_SEARCH_API_KEY")
	setIfPresent(&c.Embedding.APIKey, "HRCOPILOT_EMBEDDING_API_KEY")
	setIfPresent(&c.LLM.APIKey, "HRCOPILOT_LLM_API_KEY")
	setIfPresent(&c.OCR.APIKey, "HRCOPILOT_OCR_API_KEY")
	setIfPresent(&c.Storage.Path, "HRCOPILOT_STATE_PATH")
}

// applyDefaults backfills zero values left by the TOML file.
func (c *Config) applyDefaults() {
	def := NewDefaultConfig()
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Search.Provider == "" {
		c.Search.Provider = def.Search.Provider
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = def.Embedding.Dimensions
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = def.Sync.Workers
	}
	if c.Sync.RetryAttempts <= 0 {
		c.Sync.RetryAttempts = def.Sync.RetryAttempts
	}
	if c.Sync.ItemTimeoutSeconds <= 0 {
		c.Sync.ItemTimeoutSeconds = def.Sync.ItemTimeoutSeconds
	}
	if c.Query.RetrieveTop <= 0 {
		c.Query.RetrieveTop = def.Query.RetrieveTop
	}
	if c.Query.AnswerTop <= 0 {
		c.Query.AnswerTop = def.Query.AnswerTop
	}
	if c.Query.FreshnessDays <= 0 {
		c.Query.FreshnessDays = def.Query.FreshnessDays
	}
	if c.Query.FreshnessBoost <= 0 {
		c.Query.FreshnessBoost = def.Query.FreshnessBoost
	}
}
