// Package cli provides the command-line interface. Commands talk to the
// core services through the driving ports; the services themselves are
// assembled here from the configuration.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/res-labs/hrcopilot/internal/adapters/driven/embedding/azopenai"
	"github.com/res-labs/hrcopilot/internal/adapters/driven/extraction/docintel"
	"github.com/res-labs/hrcopilot/internal/adapters/driven/feed"
	llmazopenai "github.com/res-labs/hrcopilot/internal/adapters/driven/llm/azopenai"
	"github.com/res-labs/hrcopilot/internal/adapters/driven/msgraph"
	"github.com/res-labs/hrcopilot/internal/adapters/driven/search/azsearch"
	"github.com/res-labs/hrcopilot/internal/adapters/driven/search/meili"
	"github.com/res-labs/hrcopilot/internal/adapters/driven/storage/memory"
	"github.com/res-labs/hrcopilot/internal/adapters/driven/storage/sqlite"
	"github.com/res-labs/hrcopilot/internal/chunker"
	"github.com/res-labs/hrcopilot/internal/config"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
	"github.com/res-labs/hrcopilot/internal/core/ports/driving"
	"github.com/res-labs/hrcopilot/internal/core/services"
	"github.com/res-labs/hrcopilot/internal/extract"
	"github.com/res-labs/hrcopilot/internal/logger"
	"github.com/res-labs/hrcopilot/internal/retry"
)

// version is set at build time via -ldflags.
var version = "dev"

// Services wired by initServices and consumed by the commands. Tests
// substitute these directly.
var (
	cfg              *config.Config
	syncOrchestrator driving.SyncOrchestrator
	queryService     driving.QueryService
	closers          []func() error
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hrcopilot",
	Short: "Permission-trimmed document Q&A over company libraries",
	Long: `hrcopilot keeps a search index in step with company document
libraries and answers employee questions from it. Every answer is
restricted to documents the asking user can already open, and every
statement cites its source.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(verbose)
		if cmd.Name() == "version" {
			return nil
		}
		return initServices()
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		return shutdown()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.hrcopilot/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initServices loads the configuration and assembles the service graph.
// Commands injected with services by tests are left alone.
func initServices() error {
	if syncOrchestrator != nil && queryService != nil {
		return nil
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	store, err := sqlite.NewStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	closers = append(closers, store.Close)

	var graphClient *msgraph.Client
	if cfg.Directory.TenantID != "" {
		graphClient, err = msgraph.NewClient(msgraph.Config{
			TenantID:     cfg.Directory.TenantID,
			ClientID:     cfg.Directory.ClientID,
			ClientSecret: cfg.Directory.ClientSecret,
		})
		if err != nil {
			return err
		}
	}

	index, err := buildIndex()
	if err != nil {
		return err
	}
	closers = append(closers, index.Close)

	embedder, err := buildEmbedder()
	if err != nil {
		return err
	}
	if embedder != nil {
		closers = append(closers, embedder.Close)
	}

	ocr, err := buildOCR()
	if err != nil {
		return err
	}

	var directory driven.DirectoryService
	if graphClient != nil {
		directory = msgraph.NewDirectory(graphClient)
	} else {
		return fmt.Errorf("directory credentials are required (HRCOPILOT_TENANT_ID)")
	}

	resolver := services.NewAclResolver(directory, store.AclStore())
	extractor := extract.NewRouter(ocr)
	splitter := chunker.New()

	itemRetry := retry.DefaultConfig
	itemRetry.Attempts = cfg.Sync.RetryAttempts
	itemRetry.Timeout = time.Duration(cfg.Sync.ItemTimeoutSeconds) * time.Second

	syncOrchestrator = services.NewChangeFeedSync(
		feed.NewFactory(cfg, graphClient),
		store.CursorStore(),
		store.FailureStore(),
		resolver,
		extractor,
		splitter,
		embedder,
		index,
		services.SyncConfig{
			Libraries: cfg.LibraryIDs(),
			Workers:   cfg.Sync.Workers,
			ItemRetry: itemRetry,
		},
	)

	llm, err := buildLLM()
	if err != nil {
		return err
	}
	if llm != nil {
		closers = append(closers, llm.Close)
	}

	synthesizer := services.NewSynthesizer(llm, services.SynthesizerConfig{
		MaxTokens: cfg.LLM.MaxTokens,
	})
	queryService = services.NewRetriever(resolver, embedder, index, synthesizer, services.RetrieverConfig{
		RetrieveTop:     cfg.Query.RetrieveTop,
		AnswerTop:       cfg.Query.AnswerTop,
		FreshnessWindow: time.Duration(cfg.Query.FreshnessDays) * 24 * time.Hour,
		FreshnessBoost:  cfg.Query.FreshnessBoost,
	})
	return nil
}

func buildIndex() (driven.SearchIndex, error) {
	switch cfg.Search.Provider {
	case config.SearchAzure:
		return azsearch.NewIndex(azsearch.Config{
			Endpoint:              cfg.Search.Endpoint,
			IndexName:             cfg.Search.IndexName,
			APIKey:                cfg.Search.APIKey,
			SemanticConfiguration: cfg.Search.SemanticConfig,
		})
	case config.SearchMeili:
		return meili.NewIndex(meili.Config{
			URL:       cfg.Search.Endpoint,
			APIKey:    cfg.Search.APIKey,
			IndexName: cfg.Search.IndexName,
		})
	case config.SearchMemory:
		return memory.NewSearchIndex(), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Search.Provider)
	}
}

func buildEmbedder() (driven.EmbeddingService, error) {
	if cfg.Embedding.Disabled || cfg.Embedding.Endpoint == "" {
		return nil, nil
	}
	return azopenai.NewEmbeddingService(azopenai.Config{
		Endpoint:   cfg.Embedding.Endpoint,
		Deployment: cfg.Embedding.Deployment,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
	})
}

func buildLLM() (driven.LLMService, error) {
	if cfg.LLM.Endpoint == "" {
		return nil, nil
	}
	return llmazopenai.NewLLMService(llmazopenai.Config{
		Endpoint:   cfg.LLM.Endpoint,
		Deployment: cfg.LLM.Deployment,
		APIKey:     cfg.LLM.APIKey,
	})
}

func buildOCR() (driven.OCRService, error) {
	if cfg.OCR.Disabled || cfg.OCR.Endpoint == "" {
		return nil, nil
	}
	return docintel.NewOCRService(docintel.Config{
		Endpoint: cfg.OCR.Endpoint,
		APIKey:   cfg.OCR.APIKey,
	})
}

func shutdown() error {
	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	closers = nil
	return firstErr
}
