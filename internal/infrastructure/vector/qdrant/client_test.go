package qdrant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestEnsureCollectionCreatesHybridSchema(t *testing.T) {
	var created map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			http.NotFound(w, r)
		case r.Method == http.MethodPut:
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Fatalf("decode create body: %v", err)
			}
			_, _ = w.Write([]byte(`{"result": true}`))
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Collection: "docs", Dimension: 4, WantSparse: true}, discardLogger())
	if err := client.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	vectors, _ := created["vectors"].(map[string]any)
	dense, _ := vectors["dense"].(map[string]any)
	if dense["distance"] != "Cosine" {
		t.Fatalf("dense distance = %v, want Cosine", dense["distance"])
	}
	if dense["size"].(float64) != 4 {
		t.Fatalf("dense size = %v, want 4", dense["size"])
	}
	if _, ok := created["sparse_vectors"].(map[string]any)["sparse"]; !ok {
		t.Fatalf("sparse field missing from create body: %v", created)
	}
}

func TestEnsureCollectionPatchesMissingSparseField(t *testing.T) {
	var patched map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			// Existing collection created before sparse support.
			_, _ = w.Write([]byte(`{"result": {"config": {"params": {}}}}`))
		case http.MethodPatch:
			if err := json.NewDecoder(r.Body).Decode(&patched); err != nil {
				t.Fatalf("decode patch body: %v", err)
			}
			_, _ = w.Write([]byte(`{"result": true}`))
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Collection: "docs", Dimension: 4, WantSparse: true}, discardLogger())
	if err := client.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if _, ok := patched["sparse_vectors"].(map[string]any)["sparse"]; !ok {
		t.Fatalf("sparse field not patched in: %v", patched)
	}
}

func TestEnsureCollectionSkipsPatchWhenSparsePresent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"result": {"config": {"params": {"sparse_vectors": {"sparse": {}}}}}}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Collection: "docs", Dimension: 4, WantSparse: true}, discardLogger())
	if err := client.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
}

func TestEnsurePayloadIndexesToleratesExisting(t *testing.T) {
	var fields []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			FieldName string `json:"field_name"`
			Schema    string `json:"field_schema"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode index body: %v", err)
		}
		if body.Schema != "keyword" {
			t.Fatalf("field_schema = %q, want keyword", body.Schema)
		}
		fields = append(fields, body.FieldName)
		if body.FieldName == "source" {
			http.Error(w, `{"status": {"error": "index already exists"}}`, http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"result": true}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Collection: "docs", Dimension: 4}, discardLogger())
	if err := client.EnsurePayloadIndexes(context.Background()); err != nil {
		t.Fatalf("EnsurePayloadIndexes: %v", err)
	}
	if len(fields) != len(payloadIndexFields) {
		t.Fatalf("indexed %d fields, want %d", len(fields), len(payloadIndexFields))
	}
}

func TestUpsertSendsNamedVectors(t *testing.T) {
	var body struct {
		Points []struct {
			ID     string `json:"id"`
			Vector struct {
				Dense  []float32 `json:"dense"`
				Sparse *struct {
					Indices []uint32  `json:"indices"`
					Values  []float32 `json:"values"`
				} `json:"sparse"`
			} `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "true" {
			t.Fatal("upsert must wait for persistence")
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode upsert body: %v", err)
		}
		_, _ = w.Write([]byte(`{"result": true}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Collection: "docs", Dimension: 2, WantSparse: true}, discardLogger())
	err := client.Upsert(context.Background(), []domain.Point{
		{
			ID:      "11111111-2222-3333-4444-555555555555",
			Dense:   []float32{0.5, 0.6},
			Sparse:  map[uint32]float32{7: 0.9, 13: 0.0},
			Payload: map[string]any{"doc_id": "d1", "text": "hello"},
		},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if len(body.Points) != 1 {
		t.Fatalf("points = %d, want 1", len(body.Points))
	}
	p := body.Points[0]
	if len(p.Vector.Dense) != 2 {
		t.Fatalf("dense vector missing: %+v", p.Vector)
	}
	if p.Vector.Sparse == nil {
		t.Fatal("sparse vector missing")
	}
	if len(p.Vector.Sparse.Indices) != 1 || p.Vector.Sparse.Indices[0] != 7 {
		t.Fatalf("zero weight not filtered: %+v", p.Vector.Sparse)
	}
	if p.Payload["doc_id"] != "d1" {
		t.Fatalf("payload lost: %v", p.Payload)
	}
}

func TestCountParsesExactCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode count body: %v", err)
		}
		if body["exact"] != true {
			t.Fatal("count must be exact")
		}
		_, _ = w.Write([]byte(`{"result": {"count": 1234}}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Collection: "docs", Dimension: 2}, discardLogger())
	count, err := client.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1234 {
		t.Fatalf("count = %d, want 1234", count)
	}
}

func TestSparseWireTruncatesByAbsoluteWeight(t *testing.T) {
	weights := make(map[uint32]float32, maxSparseIndices+50)
	for i := 0; i < maxSparseIndices+50; i++ {
		weights[uint32(i+1)] = float32(i+1) / 1000.0
	}

	sv := toSparseVector(weights)
	if len(sv.Indices) != maxSparseIndices {
		t.Fatalf("indices = %d, want %d", len(sv.Indices), maxSparseIndices)
	}
	// Strongest term first, weakest surviving term is the 256th largest.
	if sv.Values[0] != float32(maxSparseIndices+50)/1000.0 {
		t.Fatalf("first value = %v, want the largest weight", sv.Values[0])
	}
	for i := 1; i < len(sv.Values); i++ {
		if sv.Values[i] > sv.Values[i-1] {
			t.Fatalf("values not sorted by weight at %d", i)
		}
	}
}
