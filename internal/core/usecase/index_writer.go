package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
	"github.com/zakordonets/RAG-3-sub001/internal/core/ports"
)

// IndexWriter is the terminal pipeline stage: it embeds chunk batches and
// upserts them into the vector index. A batch that keeps failing is bisected
// so one malformed record cannot sink its batchmates; a single record that
// still fails after retries is dropped and counted, never silently lost.
type IndexWriter struct {
	embedder ports.Embedder
	index    ports.VectorIndex
	metrics  Metrics
	logger   *slog.Logger

	batchSize   int
	maxAttempts int
	baseBackoff time.Duration

	written atomic.Int64
	dropped atomic.Int64
}

type IndexWriterConfig struct {
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
}

func NewIndexWriter(embedder ports.Embedder, index ports.VectorIndex, cfg IndexWriterConfig, m Metrics, logger *slog.Logger) *IndexWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if m == nil {
		m = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexWriter{
		embedder:    embedder,
		index:       index,
		metrics:     m,
		logger:      logger,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
	}
}

func (w *IndexWriter) Name() string { return "index" }

// Totals reports points written and dropped since construction.
func (w *IndexWriter) Totals() (written, dropped int64) {
	return w.written.Load(), w.dropped.Load()
}

func (w *IndexWriter) Process(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	if len(doc.Chunks) == 0 {
		out := *doc
		out.Skipped = true
		out.SkipReason = "no chunks"
		return &out, nil
	}

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	var docWritten, docDropped int

	for start := 0; start < len(doc.Chunks); start += w.batchSize {
		end := start + w.batchSize
		if end > len(doc.Chunks) {
			end = len(doc.Chunks)
		}
		batch := doc.Chunks[start:end]

		points, err := w.buildPoints(ctx, batch, indexedAt)
		if err != nil {
			return doc, err
		}
		written, dropped := w.upsertWithSplit(ctx, points)
		docWritten += written
		docDropped += dropped
	}

	w.written.Add(int64(docWritten))
	w.dropped.Add(int64(docDropped))
	if docWritten > 0 {
		w.metrics.ChunksWritten(doc.Raw.Meta.Source, docWritten)
	}
	if docDropped > 0 {
		w.logger.Warn("points dropped after retries", "doc_id", doc.DocID, "dropped", docDropped)
	}
	if docWritten == 0 {
		return doc, fmt.Errorf("index document %s: every point dropped", doc.DocID)
	}
	return doc, nil
}

// buildPoints embeds the batch and assembles index records. Embedding trouble
// degrades to zero vectors instead of failing the batch; the degraded count
// is the observable trace.
func (w *IndexWriter) buildPoints(ctx context.Context, batch []domain.Chunk, indexedAt string) ([]domain.Point, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	dim := w.embedder.Dimension()
	vectors, err := w.embedder.Embed(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.logger.Warn("embedding failed, writing zero vectors", "batch", len(batch), "error", err)
		vectors = domain.EmbeddingBatch{Dense: make([][]float32, len(batch))}
		for i := range vectors.Dense {
			vectors.Dense[i] = make([]float32, dim)
			w.metrics.EmbedDegraded()
		}
	}

	points := make([]domain.Point, 0, len(batch))
	for i, chunk := range batch {
		var dense []float32
		if i < len(vectors.Dense) {
			dense = vectors.Dense[i]
		}
		if len(dense) != dim {
			w.logger.Warn("dense vector dimension mismatch, substituting zero vector",
				"chunk_id", chunk.Payload.ChunkID, "got", len(dense), "want", dim)
			w.metrics.EmbedDegraded()
			dense = make([]float32, dim)
		}
		var sparse map[uint32]float32
		if i < len(vectors.Sparse) {
			sparse = vectors.Sparse[i]
		}
		points = append(points, domain.Point{
			ID:      PointID(chunk),
			Dense:   dense,
			Sparse:  sparse,
			Payload: chunkPayload(chunk, indexedAt),
		})
	}
	return points, nil
}

// upsertWithSplit retries the whole batch with increasing backoff, then
// bisects it so the failing record is isolated. Termination is guaranteed:
// every recursion level halves the batch.
func (w *IndexWriter) upsertWithSplit(ctx context.Context, points []domain.Point) (written, dropped int) {
	if len(points) == 0 {
		return 0, 0
	}

	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err = w.index.Upsert(ctx, points)
		if err == nil {
			return len(points), 0
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < w.maxAttempts {
			w.metrics.BatchRetried()
			w.logger.Warn("upsert retry", "attempt", attempt, "batch", len(points), "error", err)
			if !sleepCtx(ctx, w.baseBackoff*time.Duration(attempt)) {
				break
			}
		}
	}

	if len(points) == 1 {
		w.metrics.PointDropped()
		w.logger.Error("dropping point after retries", "point_id", points[0].ID, "error", err)
		return 0, 1
	}

	w.metrics.BatchBisected()
	mid := len(points) / 2
	lw, ld := w.upsertWithSplit(ctx, points[:mid])
	rw, rd := w.upsertWithSplit(ctx, points[mid:])
	return lw + rw, ld + rd
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// PointID derives the deterministic point identity for a chunk: the stable
// chunk ID when present, else docID#index, else a hash of the text. Re-
// indexing unchanged content therefore overwrites instead of duplicating.
func PointID(chunk domain.Chunk) string {
	key := chunk.Payload.ChunkID
	if key == "" && chunk.Payload.DocID != "" {
		key = fmt.Sprintf("%s#%d", chunk.Payload.DocID, chunk.Payload.ChunkIndex)
	}
	if key == "" {
		sum := sha256.Sum256([]byte(chunk.Text))
		key = hex.EncodeToString(sum[:])
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("chunk:"+key)).String()
}

// chunkPayload flattens the indexable metadata. Heavy fields (raw HTML, DOM)
// never reach the store; empties are omitted to keep points lean.
func chunkPayload(chunk domain.Chunk, indexedAt string) map[string]any {
	p := chunk.Payload
	payload := map[string]any{
		"text":         chunk.Text,
		"chunk_id":     p.ChunkID,
		"chunk_index":  p.ChunkIndex,
		"total_chunks": p.TotalChunks,
		"doc_id":       p.DocID,
		"source":       p.Source,
		"token_count":  p.TokenCount,
		"indexed_at":   indexedAt,
	}
	putIfSet := func(key, value string) {
		if value != "" {
			payload[key] = value
		}
	}
	putIfSet("title", p.Title)
	putIfSet("canonical_url", p.CanonicalURL)
	putIfSet("category", p.Category)
	putIfSet("platform", p.Platform)
	putIfSet("role", p.Role)
	putIfSet("page_type", p.PageType)
	putIfSet("content_type", p.ContentType)
	putIfSet("language", p.Language)
	putIfSet("chunk_strategy", p.Strategy)
	if len(p.HeadingPath) > 0 {
		payload["heading_path"] = p.HeadingPath
	}
	for k, v := range p.Extra {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}
	return payload
}
