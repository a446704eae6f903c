// Package embedding is the HTTP boundary to the external embedding service.
// It asks for dense and sparse representations in one call and falls back to
// a local lexical encoder when the service returns no sparse vectors.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/resilience"
)

type Config struct {
	Endpoint   string
	Dimension  int
	MaxLength  int
	WantSparse bool
	Timeout    time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
	sparse     *SparseEncoder
	logger     *slog.Logger
}

func NewClient(cfg Config, executor *resilience.Executor, logger *slog.Logger) *Client {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   executor,
		sparse:     NewSparseEncoder(),
		logger:     logger,
	}
}

func (c *Client) Dimension() int { return c.cfg.Dimension }

func (c *Client) Embed(ctx context.Context, texts []string) (domain.EmbeddingBatch, error) {
	if len(texts) == 0 {
		return domain.EmbeddingBatch{}, nil
	}

	request := map[string]any{
		"inputs":        texts,
		"truncate":      true,
		"max_length":    c.cfg.MaxLength,
		"return_dense":  true,
		"return_sparse": c.cfg.WantSparse,
	}
	var response struct {
		Dense  [][]float32          `json:"dense_vecs"`
		Sparse []map[string]float32 `json:"lexical_weights"`
	}

	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/embed", request, &response, "embed")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "embedding.embed", call, classifyEmbeddingError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.EmbeddingBatch{}, wrapTemporaryIfNeeded("embed texts", err)
	}

	if len(response.Dense) != len(texts) {
		return domain.EmbeddingBatch{}, domain.WrapError(domain.ErrInvalidInput, "embed texts",
			fmt.Errorf("service returned %d dense vectors for %d inputs", len(response.Dense), len(texts)))
	}

	batch := domain.EmbeddingBatch{Dense: response.Dense}
	if c.cfg.WantSparse {
		if len(response.Sparse) == len(texts) {
			batch.Sparse = convertLexicalWeights(response.Sparse)
		} else {
			// Service has no sparse head; the local encoder keeps hybrid
			// search alive with hashed lexical weights.
			batch.Sparse = c.sparse.EncodeBatch(texts)
		}
	}
	return batch, nil
}

// convertLexicalWeights turns the service's stringly-keyed token weights into
// numeric token ids. Keys that do not parse are dropped.
func convertLexicalWeights(raw []map[string]float32) []map[uint32]float32 {
	out := make([]map[uint32]float32, len(raw))
	for i, m := range raw {
		converted := make(map[uint32]float32, len(m))
		for key, weight := range m {
			id, err := strconv.ParseUint(key, 10, 32)
			if err != nil {
				continue
			}
			converted[uint32(id)] = weight
		}
		out[i] = converted
	}
	return out
}
