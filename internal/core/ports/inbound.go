package ports

import (
	"context"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

// SourceIngestor is the inbound contract for running one source end to end.
type SourceIngestor interface {
	Run(ctx context.Context, source Source) (domain.RunStats, error)
}
