package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
	"github.com/zakordonets/RAG-3-sub001/internal/core/ports"
)

const (
	ReindexFull      = "full"
	ReindexChanged   = "changed"
	ReindexCacheOnly = "cache_only"
)

// IngestOptions are the per-run knobs shared by every source type.
type IngestOptions struct {
	ReindexMode     string
	ClearCollection bool
	Workers         int
}

func (o IngestOptions) validate() error {
	switch o.ReindexMode {
	case ReindexFull, ReindexChanged, ReindexCacheOnly:
		return nil
	default:
		return domain.WrapError(domain.ErrConfiguration, "check reindex mode",
			fmt.Errorf("unknown mode %q", o.ReindexMode))
	}
}

// IngestSourceUseCase runs one source end to end: collection setup, document
// resolution, the stage pipeline on a worker pool, and per-document state
// bookkeeping afterwards.
type IngestSourceUseCase struct {
	pipeline *Pipeline
	index    ports.VectorIndex
	state    ports.StateStore
	cache    ports.PageCache      // optional, feeds cache_only replays
	queue    ports.EventPublisher // optional
	opts     IngestOptions
	logger   *slog.Logger
}

func NewIngestSourceUseCase(
	pipeline *Pipeline,
	index ports.VectorIndex,
	state ports.StateStore,
	cache ports.PageCache,
	queue ports.EventPublisher,
	opts IngestOptions,
	logger *slog.Logger,
) *IngestSourceUseCase {
	if opts.ReindexMode == "" {
		opts.ReindexMode = ReindexFull
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestSourceUseCase{
		pipeline: pipeline,
		index:    index,
		state:    state,
		cache:    cache,
		queue:    queue,
		opts:     opts,
		logger:   logger,
	}
}

// Run ingests every document the source yields. A document failure is
// counted, not fatal; a source-level failure (bad configuration, frontier
// resolution) aborts this run and is returned.
func (uc *IngestSourceUseCase) Run(ctx context.Context, src ports.Source) (domain.RunStats, error) {
	stats := domain.RunStats{Source: src.Name()}

	if err := uc.opts.validate(); err != nil {
		return stats, err
	}
	if err := src.Validate(ctx); err != nil {
		return stats, err
	}

	if uc.opts.ClearCollection {
		if err := uc.index.Clear(ctx); err != nil {
			return stats, fmt.Errorf("clear collection: %w", err)
		}
		uc.logger.Info("collection cleared", "source", src.Name())
	}
	if err := uc.index.EnsureCollection(ctx); err != nil {
		return stats, fmt.Errorf("ensure collection: %w", err)
	}
	if err := uc.index.EnsurePayloadIndexes(ctx); err != nil {
		return stats, fmt.Errorf("ensure payload indexes: %w", err)
	}

	rawDocs, srcErrs := uc.documents(ctx, src)

	envelopes := make(chan domain.Document)
	g, gctx := errgroup.WithContext(ctx)

	unchanged := 0
	g.Go(func() error {
		defer close(envelopes)
		for raw := range rawDocs {
			if uc.opts.ReindexMode == ReindexChanged &&
				!uc.state.IsChanged(gctx, raw.URI, raw.Meta.Source, raw.Bytes, raw.Meta.MTime) {
				unchanged++
				continue
			}
			doc := domain.Document{
				Raw:   raw,
				DocID: domain.DocumentID(raw.Meta.Source, raw.URI),
			}
			select {
			case envelopes <- doc:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if err, ok := <-srcErrs; ok && err != nil {
			return fmt.Errorf("source %s: %w", src.Name(), err)
		}
		return nil
	})

	g.Go(func() error {
		run := uc.pipeline.RunStream(gctx, envelopes, uc.opts.Workers, uc.afterDocument(gctx))
		run.Source = src.Name()
		stats = run
		return nil
	})

	runErr := g.Wait()

	stats.Total += unchanged
	stats.Skipped += unchanged

	if err := uc.state.Save(ctx); err != nil {
		uc.logger.Error("state save failed", "source", src.Name(), "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	uc.logger.Info("source run finished",
		"source", src.Name(),
		"total", stats.Total,
		"processed", stats.Processed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"chunks", stats.Chunks,
		"duration", stats.Duration.Round(time.Millisecond),
	)
	if runErr != nil && errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		// A cancelled run is the caller's decision, not a source failure.
		return stats, ctx.Err()
	}
	return stats, runErr
}

// afterDocument records state and notifies consumers for each successfully
// indexed document. Runs on pipeline workers, so everything it touches must
// be concurrency safe.
func (uc *IngestSourceUseCase) afterDocument(ctx context.Context) func(*domain.Document, error) {
	return func(doc *domain.Document, procErr error) {
		if procErr != nil || doc.Skipped {
			return
		}
		now := time.Now().UTC()
		if err := uc.state.Update(ctx, doc.Raw.URI, doc.Raw.Meta.Source, doc.Raw.Bytes, doc.Raw.Meta.MTime, now); err != nil {
			uc.logger.Error("state update failed", "doc_id", doc.DocID, "error", err)
		}
		if uc.queue != nil {
			if err := uc.queue.PublishDocumentIndexed(ctx, doc.DocID); err != nil {
				uc.logger.Warn("publish indexed event failed", "doc_id", doc.DocID, "error", err)
			}
		}
	}
}

// documents resolves the raw document feed. cache_only bypasses the source
// entirely and replays every cached page, ignoring upstream freshness; the
// mode exists to re-chunk after algorithm changes without network traffic.
func (uc *IngestSourceUseCase) documents(ctx context.Context, src ports.Source) (<-chan domain.RawDocument, <-chan error) {
	if uc.opts.ReindexMode != ReindexCacheOnly {
		return src.Documents(ctx)
	}

	docs := make(chan domain.RawDocument)
	errs := make(chan error, 1)
	if uc.cache == nil {
		close(docs)
		errs <- domain.WrapError(domain.ErrConfiguration, "replay cache",
			errors.New("cache_only mode requires a crawl cache"))
		close(errs)
		return docs, errs
	}

	uc.logger.Warn("cache_only mode replays cached pages without checking upstream freshness",
		"source", src.Name())

	go func() {
		defer close(docs)
		defer close(errs)
		for _, pageURL := range uc.cache.URLs() {
			entry, ok := uc.cache.Get(pageURL)
			if !ok {
				continue
			}
			body, ok := uc.cache.GetBody(pageURL)
			if !ok {
				continue
			}
			content, contentType := body.HTML, "html"
			if content == "" {
				content, contentType = body.Text, "text"
			}
			raw := domain.RawDocument{
				URI:       pageURL,
				FetchedAt: entry.CachedAt,
				Bytes:     []byte(content),
				Meta: domain.DocumentMeta{
					Source:      src.Name(),
					SiteURL:     pageURL,
					Title:       entry.Title,
					PageType:    entry.PageType,
					ContentType: contentType,
				},
			}
			select {
			case docs <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()
	return docs, errs
}
