package ports

import (
	"context"
	"time"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

// Source produces the raw documents of one configured corpus.
// Documents returns lazily: the document channel closes when the source is
// exhausted or the context is cancelled; the error channel carries at most
// one fatal error and is closed with the document channel.
type Source interface {
	Name() string
	Validate(ctx context.Context) error
	Documents(ctx context.Context) (<-chan domain.RawDocument, <-chan error)
}

// PageCache is the content-addressed crawl cache shared by website sources.
// Reads may run concurrently; mutations are internally serialized.
type PageCache interface {
	Has(url string) bool
	Get(url string) (domain.PageCacheEntry, bool)
	GetBody(url string) (domain.PageBody, bool)
	Save(url, html, text string, meta domain.PageMeta) (domain.PageCacheEntry, error)
	IsFresh(url string, currentContent []byte) bool
	Remove(url string) error
	CleanupStale(validURLs map[string]struct{}) (int, error)
	URLs() []string
	Stats() domain.CacheStats
}

// StateStore tracks per-document content identity across runs. Read paths
// degrade to "changed" on backend trouble; write failures are surfaced.
type StateStore interface {
	IsChanged(ctx context.Context, uri, source string, content []byte, mtime time.Time) bool
	Update(ctx context.Context, uri, source string, content []byte, mtime, indexedAt time.Time) error
	ChangedDocuments(ctx context.Context, source string) map[string]struct{}
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
	Save(ctx context.Context) error
	Close(ctx context.Context) error
}

// Parser turns raw bytes into a ParsedDocument.
type Parser interface {
	Parse(ctx context.Context, raw domain.RawDocument) (*domain.ParsedDocument, error)
}

// Normalizer cleans parsed text and resolves the canonical URL. It returns a
// new value; the input document is never mutated.
type Normalizer interface {
	Normalize(ctx context.Context, doc *domain.ParsedDocument) (*domain.ParsedDocument, error)
}

// Chunker splits a normalized document into retrieval-ready chunks.
type Chunker interface {
	Chunk(doc *domain.ParsedDocument, docID string) ([]domain.Chunk, error)
}

// Embedder is the narrow boundary to the external embedding capability.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (domain.EmbeddingBatch, error)
	Dimension() int
}

// VectorIndex manages the target collection schema and persists points.
type VectorIndex interface {
	EnsureCollection(ctx context.Context) error
	EnsurePayloadIndexes(ctx context.Context) error
	Upsert(ctx context.Context, points []domain.Point) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// EventPublisher notifies downstream consumers about indexed documents.
type EventPublisher interface {
	PublishDocumentIndexed(ctx context.Context, docID string) error
	Close()
}
