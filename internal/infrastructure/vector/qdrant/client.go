// Package qdrant is the REST adapter for the vector store: collection schema
// management for hybrid dense+sparse search and batched point upserts.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// payloadIndexFields are the payload keys retrieval filters on; each gets a
// keyword index at startup.
var payloadIndexFields = []string{
	"doc_id", "source", "category", "platform", "role", "page_type", "content_type",
}

type Config struct {
	BaseURL    string
	Collection string
	Dimension  int
	WantSparse bool
	Timeout    time.Duration
}

type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	ensureMu sync.Mutex
	ensured  bool
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// EnsureCollection creates the collection with a named dense vector and,
// when sparse is enabled, a named sparse vector. An existing collection that
// predates sparse support gets the sparse field patched in.
func (c *Client) EnsureCollection(ctx context.Context) error {
	c.ensureMu.Lock()
	if c.ensured {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	status, info, err := c.getCollection(ctx)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusNotFound:
		if err := c.createCollection(ctx); err != nil {
			return err
		}
	case status < 300:
		if c.cfg.WantSparse && !info.hasSparseField() {
			c.logger.Info("adding sparse vector field to existing collection", "collection", c.cfg.Collection)
			if err := c.addSparseField(ctx); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("qdrant get collection status: %d", status)
	}

	c.ensureMu.Lock()
	c.ensured = true
	c.ensureMu.Unlock()
	return nil
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				SparseVectors map[string]json.RawMessage `json:"sparse_vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (info *collectionInfo) hasSparseField() bool {
	_, ok := info.Result.Config.Params.SparseVectors[sparseVectorName]
	return ok
}

func (c *Client) getCollection(ctx context.Context) (int, *collectionInfo, error) {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create get collection request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant get collection request: %w", err)
	}
	defer resp.Body.Close()

	info := &collectionInfo{}
	if resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
			return 0, nil, fmt.Errorf("decode collection info: %w", err)
		}
	}
	return resp.StatusCode, info, nil
}

func (c *Client) createCollection(ctx context.Context) error {
	reqBody := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     c.cfg.Dimension,
				"distance": "Cosine",
			},
		},
	}
	if c.cfg.WantSparse {
		reqBody["sparse_vectors"] = map[string]any{
			sparseVectorName: map[string]any{},
		}
	}

	status, body, err := c.doJSON(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s", c.baseURL, c.cfg.Collection), reqBody, "create collection")
	if err != nil {
		return err
	}
	// 409 means a concurrent ingest created it first.
	if status >= 300 && status != http.StatusConflict {
		return statusError("create collection", status, body)
	}
	return nil
}

func (c *Client) addSparseField(ctx context.Context) error {
	reqBody := map[string]any{
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}

	status, body, err := c.doJSON(ctx, http.MethodPatch,
		fmt.Sprintf("%s/collections/%s", c.baseURL, c.cfg.Collection), reqBody, "add sparse field")
	if err != nil {
		return err
	}
	if status >= 300 {
		return statusError("add sparse field", status, body)
	}
	return nil
}

// EnsurePayloadIndexes creates a keyword index per filterable payload field.
// Re-creating an existing index is not an error.
func (c *Client) EnsurePayloadIndexes(ctx context.Context) error {
	for _, field := range payloadIndexFields {
		reqBody := map[string]any{
			"field_name":   field,
			"field_schema": "keyword",
		}

		status, body, err := c.doJSON(ctx, http.MethodPut,
			fmt.Sprintf("%s/collections/%s/index?wait=true", c.baseURL, c.cfg.Collection), reqBody, "create payload index")
		if err != nil {
			return err
		}
		if status >= 300 {
			if strings.Contains(strings.ToLower(body), "already exists") {
				continue
			}
			return fmt.Errorf("qdrant create payload index %q status: %d: %s", field, status, body)
		}
	}
	return nil
}

// Upsert writes points with wait=true so a successful return means the
// points are persisted and visible.
func (c *Client) Upsert(ctx context.Context, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}

	reqBody := map[string]any{"points": encodePoints(points, c.cfg.WantSparse)}

	status, body, err := c.doJSON(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.cfg.Collection), reqBody, "upsert")
	if err != nil {
		return err
	}
	if status >= 300 {
		return statusError("upsert", status, body)
	}
	return nil
}

// Clear drops and recreates the collection.
func (c *Client) Clear(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create delete collection request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant delete collection request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return statusError("delete collection", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	c.ensureMu.Lock()
	c.ensured = false
	c.ensureMu.Unlock()
	return c.EnsureCollection(ctx)
}

// Count returns the exact point count.
func (c *Client) Count(ctx context.Context) (int, error) {
	reqBody := map[string]any{"exact": true}

	status, body, err := c.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/count", c.baseURL, c.cfg.Collection), reqBody, "count")
	if err != nil {
		return 0, err
	}
	if status >= 300 {
		return 0, statusError("count", status, body)
	}

	var countResp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(body), &countResp); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return countResp.Result.Count, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any, operation string) (int, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, strings.TrimSpace(string(raw)), nil
}

func statusError(operation string, status int, body string) error {
	if body == "" {
		return fmt.Errorf("qdrant %s status: %d", operation, status)
	}
	return fmt.Errorf("qdrant %s status: %d: %s", operation, status, body)
}
