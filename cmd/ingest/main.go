// Command ingest crawls configured documentation sources and writes their
// chunks into the vector index. It runs a single source described by flags
// or a multi-source YAML configuration, and exits non-zero if any source
// fails.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zakordonets/RAG-3-sub001/internal/bootstrap"
	"github.com/zakordonets/RAG-3-sub001/internal/config"
	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

type flags struct {
	source         string
	docsRoot       string
	siteBaseURL    string
	siteDocsPrefix string
	seedURLs       []string
	renderJS       bool

	configFile string
	profile    string

	collectionName   string
	batchSize        int
	chunkMaxTokens   int
	chunkMinTokens   int
	chunkOverlapBase int
	reindexMode      string
	clearCollection  bool
	maxPages         int
	workers          int
	verbose          bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "ingest",
		Short:         "Crawl documentation sources into the vector index",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.source, "source", "", "single source type: docusaurus or website")
	cmd.Flags().StringVar(&f.docsRoot, "docs-root", "", "docusaurus: path to the docs tree")
	cmd.Flags().StringVar(&f.siteBaseURL, "site-base-url", "", "site base URL (canonical URLs, website frontier)")
	cmd.Flags().StringVar(&f.siteDocsPrefix, "site-docs-prefix", "", "URL prefix under the site base")
	cmd.Flags().StringSliceVar(&f.seedURLs, "seed-urls", nil, "website: seed URLs for the crawl frontier")
	cmd.Flags().BoolVar(&f.renderJS, "render-js", false, "website: fetch through the rendering reader")

	cmd.Flags().StringVar(&f.configFile, "config", "", "multi-source YAML configuration file")
	cmd.Flags().StringVar(&f.profile, "profile", "", "profile name inside the configuration file")

	cmd.Flags().StringVar(&f.collectionName, "collection-name", "", "target collection (overrides QDRANT_COLLECTION)")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "chunks per embed/upsert batch")
	cmd.Flags().IntVar(&f.chunkMaxTokens, "chunk-max-tokens", 0, "sliding window size in words")
	cmd.Flags().IntVar(&f.chunkMinTokens, "chunk-min-tokens", 0, "paragraph merge threshold in words")
	cmd.Flags().IntVar(&f.chunkOverlapBase, "chunk-overlap-base", 0, "window overlap in words")
	cmd.Flags().StringVar(&f.reindexMode, "reindex-mode", "", "full, changed or cache_only")
	cmd.Flags().BoolVar(&f.clearCollection, "clear-collection", false, "drop and recreate the collection before the first write")
	cmd.Flags().IntVar(&f.maxPages, "max-pages", 0, "website: frontier page cap")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "pipeline worker pool size")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "debug logging")

	cmd.MarkFlagsMutuallyExclusive("source", "config")

	return cmd
}

func run(ctx context.Context, f flags) error {
	cfg := applyFlags(config.Load(), f)

	sources, err := resolveSources(f)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	var total domain.RunStats
	var failed []string
	for i, sc := range sources {
		src, err := app.NewSource(sc)
		if err != nil {
			app.Logger.Error("source setup failed", "source", sc.Name, "error", err)
			failed = append(failed, sc.Name)
			continue
		}

		uc := app.NewIngest(sc, f.clearCollection && i == 0)
		stats, err := uc.Run(ctx, src)
		total.Merge(stats)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				app.Logger.Warn("run cancelled", "source", src.Name())
				failed = append(failed, src.Name())
				break
			}
			app.Logger.Error("source run failed", "source", src.Name(), "error", err)
			failed = append(failed, src.Name())
		}
	}

	written, dropped := app.WriterTotals()
	app.Logger.Info("ingestion finished",
		"sources", len(sources),
		"documents", total.Total,
		"processed", total.Processed,
		"failed_documents", total.Failed,
		"skipped", total.Skipped,
		"points_written", written,
		"points_dropped", dropped,
	)

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d sources failed: %v", len(failed), len(sources), failed)
	}
	return nil
}

// applyFlags lays CLI flags over the environment configuration. Flags win
// when set; zero values keep the environment defaults.
func applyFlags(cfg config.Config, f flags) config.Config {
	if f.collectionName != "" {
		cfg.CollectionName = f.collectionName
	}
	if f.batchSize > 0 {
		cfg.BatchSize = f.batchSize
	}
	if f.chunkMaxTokens > 0 {
		cfg.ChunkMaxTokens = f.chunkMaxTokens
	}
	if f.chunkMinTokens > 0 {
		cfg.ChunkMinTokens = f.chunkMinTokens
	}
	if f.chunkOverlapBase > 0 {
		cfg.ChunkOverlapBase = f.chunkOverlapBase
	}
	if f.reindexMode != "" {
		cfg.ReindexMode = f.reindexMode
	}
	if f.maxPages > 0 {
		cfg.MaxPages = f.maxPages
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg
}

// resolveSources turns the CLI surface into source configurations: either
// the --config file (optionally narrowed by --profile) or one source built
// from flags.
func resolveSources(f flags) ([]config.SourceConfig, error) {
	if f.configFile != "" {
		return config.LoadRunFile(f.configFile, f.profile)
	}
	if f.source == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "resolve sources",
			errors.New("either --source or --config is required"))
	}

	sc := config.SourceConfig{
		Type:      f.source,
		Name:      f.source,
		DocsRoot:  f.docsRoot,
		BaseURL:   f.siteBaseURL,
		URLPrefix: f.siteDocsPrefix,
		SeedURLs:  f.seedURLs,
		MaxPages:  f.maxPages,
		RenderJS:  f.renderJS,
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return []config.SourceConfig{sc}, nil
}
