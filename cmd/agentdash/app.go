package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackmielke/agentdash/internal/agent"
	"github.com/jackmielke/agentdash/internal/claimlink"
	"github.com/jackmielke/agentdash/internal/community"
	"github.com/jackmielke/agentdash/internal/config"
	"github.com/jackmielke/agentdash/internal/customtool"
	"github.com/jackmielke/agentdash/internal/embeddings"
	"github.com/jackmielke/agentdash/internal/events"
	"github.com/jackmielke/agentdash/internal/fetch"
	"github.com/jackmielke/agentdash/internal/imagescore"
	"github.com/jackmielke/agentdash/internal/knowledge"
	"github.com/jackmielke/agentdash/internal/llm"
	"github.com/jackmielke/agentdash/internal/notify"
	"github.com/jackmielke/agentdash/internal/observe"
	"github.com/jackmielke/agentdash/internal/runner"
	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/store/postgres"
	"github.com/jackmielke/agentdash/internal/toolset"
	"github.com/jackmielke/agentdash/internal/usage"
)

// app holds the long-lived components shared by serve and ask.
type app struct {
	cfg      *config.Config
	store    store.Store
	usage    *usage.Store
	llm      *llm.MultiClient
	telegram *notify.Telegram
	executor *customtool.Executor
	runner   *runner.Runner
	bus      *events.Bus
	metrics  *observe.Metrics
}

// newApp opens storage and builds every component from cfg. metrics
// may be nil (ask runs without telemetry).
func newApp(ctx context.Context, cfg *config.Config, metrics *observe.Metrics, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	us, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	bus := events.New()
	tg := notify.NewTelegram(cfg.Telegram.APIURL, cfg.Telegram.MessagesPerSecond, logger)
	llmClient := createLLMClient(cfg, logger)
	embedder := createEmbedder(cfg, logger)

	executor := customtool.NewExecutor(st, logger,
		customtool.WithMetrics(metrics),
		customtool.WithEventBus(bus),
	)

	deps := toolset.Deps{
		Search:    toolset.NewSearchManager(cfg.Search, logger),
		Fetcher:   fetch.New(),
		Knowledge: knowledge.NewTools(st, logger),
		Community: community.NewTools(st, st, embedder, logger),
		Claims: claimlink.NewIssuer(st, claimlink.Config{
			LinkBaseURL: cfg.ClaimLink.BaseURL,
			BlobBaseURL: cfg.Listen.PublicURL,
			TTL:         cfg.ClaimLink.TTL,
		}, logger),
		Logger: logger,
	}
	if cfg.ImageScore.Configured() {
		deps.ImageScore = imagescore.NewClient(cfg.ImageScore.URL, cfg.ImageScore.APIKey)
	}

	var tracer agent.Tracer
	if metrics != nil {
		tracer = observe.NewCompletionTracer(observe.Tracer(), metrics)
	}

	run := runner.New(st, toolset.Builtins(deps), executor, agent.Deps{
		LLM:      llmClient,
		Notifier: tg,
		Tracer:   tracer,
		Bus:      bus,
		Metrics:  metrics,
		Usage:    us,
		Pricing:  cfg.Models.Pricing,
		Logger:   logger,
	}, runner.Config{
		DefaultModel:  cfg.Models.Default,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxIterations: cfg.Agent.MaxIterations,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		HistoryWindow: 24 * time.Hour,
		ProviderFor:   llmClient.ProviderFor,
	}, logger)

	return &app{
		cfg:      cfg,
		store:    st,
		usage:    us,
		llm:      llmClient,
		telegram: tg,
		executor: executor,
		runner:   run,
		bus:      bus,
		metrics:  metrics,
	}, nil
}

// Close releases storage.
func (a *app) Close() error {
	return errors.Join(a.usage.Close(), a.store.Close())
}

// openStore selects the storage backend named in config.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := postgres.New(ctx, cfg.Store.DSN, cfg.Store.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		logger.Info("store opened", "driver", "postgres")
		return st, nil
	default:
		path := filepath.Join(cfg.DataDir, "agentdash.db")
		st, err := store.OpenSQLite(path, filepath.Join(cfg.DataDir, "blobs"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("store opened", "driver", "sqlite", "path", path)
		return st, nil
	}
}

// createLLMClient builds a multi-provider completion client from the
// configuration. Each model listed in config is mapped to its provider.
// Models not explicitly mapped go to OpenAI when an API key is set and
// to Ollama otherwise.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	timeout := time.Duration(cfg.OpenAI.TimeoutSec) * time.Second
	ollamaClient := llm.NewOllamaClient(cfg.Models.OllamaURL, timeout, logger)

	var multi *llm.MultiClient
	if cfg.OpenAI.Configured() {
		openaiClient := llm.NewOpenAIClient(llm.OpenAIOptions{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: timeout,
		}, logger)
		multi = llm.NewMultiClient("openai", openaiClient)
		logger.Info("OpenAI provider configured", "base_url", cfg.OpenAI.BaseURL)
	} else {
		multi = llm.NewMultiClient("ollama", ollamaClient)
	}
	multi.AddProvider("ollama", ollamaClient)

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}
	logger.Info("LLM client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", multi.ProviderFor(cfg.Models.Default),
	)
	return multi
}

// createEmbedder builds the embedding provider for semantic member search.
func createEmbedder(cfg *config.Config, logger *slog.Logger) embeddings.Provider {
	if cfg.Embeddings.Provider == "openai" {
		logger.Info("embeddings enabled", "provider", "openai", "model", cfg.Embeddings.Model)
		return embeddings.NewOpenAI(embeddings.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
	}
	logger.Info("embeddings enabled", "provider", "ollama", "model", cfg.Embeddings.Model)
	return embeddings.NewOllama(embeddings.OllamaConfig{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})
}
