package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

type stageFake struct {
	name string
	fn   func(*domain.Document) (*domain.Document, error)

	mu    sync.Mutex
	calls int
}

func (s *stageFake) Name() string { return s.name }

func (s *stageFake) Process(_ context.Context, doc *domain.Document) (*domain.Document, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn == nil {
		return doc, nil
	}
	return s.fn(doc)
}

func (s *stageFake) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func rawDoc(uri string) domain.Document {
	return domain.Document{
		Raw: domain.RawDocument{
			URI:  uri,
			Meta: domain.DocumentMeta{Source: "test"},
		},
	}
}

func TestPipelineRunIsolatesFailures(t *testing.T) {
	failing := &stageFake{name: "boom", fn: func(doc *domain.Document) (*domain.Document, error) {
		if doc.Raw.URI == "b" {
			return doc, errors.New("stage exploded")
		}
		return doc, nil
	}}
	terminal := &stageFake{name: "last"}
	p := NewPipeline(nil, nil, failing, terminal)

	stats := p.Run(context.Background(), []domain.Document{rawDoc("a"), rawDoc("b"), rawDoc("c")})

	if stats.Total != 3 {
		t.Fatalf("total = %d, want 3", stats.Total)
	}
	if stats.Processed != 2 || stats.Failed != 1 {
		t.Fatalf("processed/failed = %d/%d, want 2/1", stats.Processed, stats.Failed)
	}
	if terminal.callCount() != 2 {
		t.Fatalf("terminal stage ran %d times, want 2 (failed doc must not reach it)", terminal.callCount())
	}
}

func TestPipelineSkipShortCircuitsLaterStages(t *testing.T) {
	skipper := &stageFake{name: "gate", fn: func(doc *domain.Document) (*domain.Document, error) {
		out := *doc
		out.Skipped = true
		out.SkipReason = "empty text"
		return &out, nil
	}}
	terminal := &stageFake{name: "last"}
	p := NewPipeline(nil, nil, skipper, terminal)

	stats := p.Run(context.Background(), []domain.Document{rawDoc("a")})

	if stats.Skipped != 1 || stats.Processed != 0 {
		t.Fatalf("skipped/processed = %d/%d, want 1/0", stats.Skipped, stats.Processed)
	}
	if terminal.callCount() != 0 {
		t.Fatalf("terminal stage ran for a skipped document")
	}
}

func TestPipelineInsertRemove(t *testing.T) {
	p := NewPipeline(nil, nil, &stageFake{name: "parse"}, &stageFake{name: "index"})

	p.Insert(1, &stageFake{name: "chunk"})
	p.Insert(1, &stageFake{name: "normalize"})

	got := p.StageNames()
	want := []string{"parse", "normalize", "chunk", "index"}
	for i, name := range want {
		if got[i] != name {
			t.Fatalf("stage order %v, want %v", got, want)
		}
	}

	if !p.Remove("normalize") {
		t.Fatalf("Remove(normalize) = false, want true")
	}
	if p.Remove("normalize") {
		t.Fatalf("second Remove(normalize) = true, want false")
	}
	if len(p.StageNames()) != 3 {
		t.Fatalf("stages after remove = %v", p.StageNames())
	}
}

func TestPipelineRunStreamProcessesAll(t *testing.T) {
	var mu sync.Mutex
	done := map[string]bool{}
	counter := &stageFake{name: "count"}
	p := NewPipeline(nil, nil, counter)

	docs := make(chan domain.Document)
	go func() {
		defer close(docs)
		for _, uri := range []string{"a", "b", "c", "d", "e"} {
			docs <- rawDoc(uri)
		}
	}()

	stats := p.RunStream(context.Background(), docs, 3, func(doc *domain.Document, err error) {
		if err != nil {
			t.Errorf("unexpected error for %s: %v", doc.Raw.URI, err)
		}
		mu.Lock()
		done[doc.Raw.URI] = true
		mu.Unlock()
	})

	if stats.Total != 5 || stats.Processed != 5 {
		t.Fatalf("total/processed = %d/%d, want 5/5", stats.Total, stats.Processed)
	}
	if len(done) != 5 {
		t.Fatalf("onDone saw %d documents, want 5", len(done))
	}
	if stats.StageTimes["count"] < 0 {
		t.Fatalf("missing stage time for count")
	}
}

func TestPipelineStageTimesAccumulate(t *testing.T) {
	p := NewPipeline(nil, nil, &stageFake{name: "only"})

	stats := p.Run(context.Background(), []domain.Document{rawDoc("a"), rawDoc("b")})
	if _, ok := stats.StageTimes["only"]; !ok {
		t.Fatalf("stage times missing entry: %v", stats.StageTimes)
	}
}
