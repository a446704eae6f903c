// Package bootstrap wires configuration into a runnable application: shared
// infrastructure is constructed once and sources get their pipeline per run.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/zakordonets/RAG-3-sub001/internal/config"
	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
	"github.com/zakordonets/RAG-3-sub001/internal/core/ports"
	"github.com/zakordonets/RAG-3-sub001/internal/core/usecase"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/chunking"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/crawlcache"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/embedding"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/parser"
	natsqueue "github.com/zakordonets/RAG-3-sub001/internal/infrastructure/queue/nats"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/resilience"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/source/docusaurus"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/source/website"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/state"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/vector/qdrant"
	"github.com/zakordonets/RAG-3-sub001/internal/observability/logging"
	"github.com/zakordonets/RAG-3-sub001/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.IngestMetrics

	Cache    ports.PageCache
	State    ports.StateStore
	Index    ports.VectorIndex
	Embedder ports.Embedder
	Queue    ports.EventPublisher

	writer       *usecase.IndexWriter
	parser       *parser.Parser
	chunker      *chunking.AdaptiveChunker
	fetchExec    *resilience.Executor
	closeFns     []func()
	metricsServe *http.Server
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewJSONLogger("rag-ingest", cfg.LogLevel)
	m := metrics.NewIngestMetrics("rag-ingest")

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	}

	cache, err := crawlcache.Open(cfg.CacheDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open crawl cache: %w", err)
	}
	app.Cache = cache

	store, err := newStateStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.State = store
	app.closeFns = append(app.closeFns, func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Error("state close failed", "error", err)
		}
	})

	app.Index = qdrant.New(qdrant.Config{
		BaseURL:    cfg.QdrantURL,
		Collection: cfg.CollectionName,
		Dimension:  cfg.EmbeddingDimension,
		WantSparse: cfg.SparseEnabled,
	}, logger)

	embedExec := resilience.NewExecutorWithLogger(resilience.DefaultConfig(), logger)
	app.Embedder = embedding.NewClient(embedding.Config{
		Endpoint:   cfg.EmbeddingEndpoint,
		Dimension:  cfg.EmbeddingDimension,
		MaxLength:  cfg.EmbeddingMaxLength,
		WantSparse: cfg.SparseEnabled,
	}, embedExec, logger)

	app.fetchExec = resilience.NewExecutorWithLogger(resilience.FetchConfig(), logger)

	if cfg.NATSEnabled {
		queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
			ResilienceExecutor: resilience.NewExecutorWithLogger(resilience.DefaultConfig(), logger),
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		app.Queue = queue
		app.closeFns = append(app.closeFns, queue.Close)
	}

	app.parser = parser.New(logger)
	app.chunker = chunking.NewAdaptiveChunker(chunking.Config{
		MaxTokens:   cfg.ChunkMaxTokens,
		MinTokens:   cfg.ChunkMinTokens,
		OverlapBase: cfg.ChunkOverlapBase,
	}, logger)
	app.writer = usecase.NewIndexWriter(app.Embedder, app.Index, usecase.IndexWriterConfig{
		BatchSize: cfg.BatchSize,
	}, m, logger)

	if cfg.MetricsPort != "" {
		if err := app.startMetricsListener(cfg.MetricsPort); err != nil {
			return nil, err
		}
	}

	return app, nil
}

func newStateStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.StateStore, error) {
	switch cfg.StateBackend {
	case "postgres":
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		store := state.NewPostgresStore(db, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure state schema: %w", err)
		}
		return store, nil
	default:
		return state.OpenFile(cfg.StatePath, logger)
	}
}

// NewSource builds the adapter for one source configuration through the
// type registry.
func (a *App) NewSource(sc config.SourceConfig) (ports.Source, error) {
	factory, ok := sourceFactories[sc.Type]
	if !ok {
		return nil, domain.WrapError(domain.ErrConfiguration, "select source type",
			fmt.Errorf("unknown source type %q", sc.Type))
	}
	return factory(a, sc), nil
}

type sourceFactory func(a *App, sc config.SourceConfig) ports.Source

var sourceFactories = map[string]sourceFactory{
	"docusaurus": func(a *App, sc config.SourceConfig) ports.Source {
		return docusaurus.New(docusaurus.Config{
			Name:       sc.Name,
			DocsRoot:   sc.DocsRoot,
			BaseURL:    sc.BaseURL,
			URLPrefix:  sc.URLPrefix,
			IncludePDF: sc.IncludePDF,
		}, nil, a.Logger)
	},
	"website": func(a *App, sc config.SourceConfig) ports.Source {
		maxPages := sc.MaxPages
		if maxPages <= 0 {
			maxPages = a.Config.MaxPages
		}
		return website.New(website.Config{
			Name:         sc.Name,
			BaseURL:      sc.BaseURL,
			SitemapURL:   sc.SitemapURL,
			SeedURLs:     sc.SeedURLs,
			DenyPrefixes: sc.DenyPrefixes,
			MaxPages:     maxPages,
			RenderJS:     sc.RenderJS,
			ReaderBase:   a.Config.ReaderBase,
			UserAgent:    a.Config.UserAgent,
			CrawlDelay:   time.Duration(a.Config.CrawlDelayMS) * time.Millisecond,
		}, a.Cache, a.fetchExec, a.Metrics, a.Logger)
	},
}

// NewIngest assembles the pipeline for one source and wraps it in the run
// use case. The normalizer is per-source because canonical URL mapping
// depends on the source's site base. clearCollection must be true for at
// most one source of a multi-source run or later sources wipe earlier ones.
func (a *App) NewIngest(sc config.SourceConfig, clearCollection bool) *usecase.IngestSourceUseCase {
	normalizer := parser.NewNormalizer(sc.BaseURL, sc.URLPrefix, a.Logger)
	pipe := usecase.NewPipeline(a.Logger, a.Metrics,
		usecase.NewParseStage(a.parser),
		usecase.NewNormalizeStage(normalizer),
		usecase.NewChunkStage(a.chunker),
		a.writer,
	)
	return usecase.NewIngestSourceUseCase(pipe, a.Index, a.State, replayCache(sc, a.Cache), a.Queue, usecase.IngestOptions{
		ReindexMode:     a.Config.ReindexMode,
		ClearCollection: clearCollection,
		Workers:         a.Config.Workers,
	}, a.Logger)
}

// replayCache scopes cache_only replay to website sources. The crawl cache
// holds fetched web pages, so replaying it for a filesystem source would
// ingest another source's pages; those runs fail with a configuration error
// instead.
func replayCache(sc config.SourceConfig, cache ports.PageCache) ports.PageCache {
	if sc.Type == "website" {
		return cache
	}
	return nil
}

// WriterTotals reports points written and dropped across all runs.
func (a *App) WriterTotals() (written, dropped int64) {
	return a.writer.Totals()
}

func (a *App) startMetricsListener(port string) error {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.metricsServe = server
	a.Logger.Info("metrics listener started", "port", port)
	return nil
}

func (a *App) Close() {
	if a.metricsServe != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metricsServe.Shutdown(shutdownCtx)
	}
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
}
