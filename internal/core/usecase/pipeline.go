// Package usecase composes the ingestion pipeline: an ordered list of stages
// every document passes through, plus the run orchestration that feeds the
// stages from a source and records what happened.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

// Stage is one step of the pipeline. Process returns a new document value;
// an error aborts only the document being processed, never the run.
type Stage interface {
	Name() string
	Process(ctx context.Context, doc *domain.Document) (*domain.Document, error)
}

// Metrics is the slice of run observability the pipeline and writer emit.
// *metrics.IngestMetrics satisfies it; tests plug in counters.
type Metrics interface {
	StartDocument()
	FinishDocument(status string, duration time.Duration)
	ChunksWritten(source string, n int)
	BatchRetried()
	BatchBisected()
	PointDropped()
	EmbedDegraded()
}

type nopMetrics struct{}

func (nopMetrics) StartDocument()                       {}
func (nopMetrics) FinishDocument(string, time.Duration) {}
func (nopMetrics) ChunksWritten(string, int)            {}
func (nopMetrics) BatchRetried()                        {}
func (nopMetrics) BatchBisected()                       {}
func (nopMetrics) PointDropped()                        {}
func (nopMetrics) EmbedDegraded()                       {}

// Pipeline runs documents through its stages in order. Stages may be
// rearranged between runs to assemble different pipelines per source type;
// a run itself only reads the stage list.
type Pipeline struct {
	stages  []Stage
	metrics Metrics
	logger  *slog.Logger

	mu         sync.Mutex
	stageTimes map[string]time.Duration
}

func NewPipeline(logger *slog.Logger, m Metrics, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Pipeline{
		stages:     stages,
		metrics:    m,
		logger:     logger,
		stageTimes: make(map[string]time.Duration),
	}
}

// Insert places a stage at position i, clamped to the stage list bounds.
func (p *Pipeline) Insert(i int, stage Stage) {
	if i < 0 {
		i = 0
	}
	if i > len(p.stages) {
		i = len(p.stages)
	}
	p.stages = append(p.stages[:i], append([]Stage{stage}, p.stages[i:]...)...)
}

// Remove drops the first stage with the given name and reports whether one
// was found.
func (p *Pipeline) Remove(name string) bool {
	for i, s := range p.stages {
		if s.Name() == name {
			p.stages = append(p.stages[:i], p.stages[i+1:]...)
			return true
		}
	}
	return false
}

// StageNames lists the current stage order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// process runs one document through every stage. A skipped document stops
// flowing; a stage error aborts the document.
func (p *Pipeline) process(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return doc, err
		}

		started := time.Now()
		next, err := stage.Process(ctx, doc)
		elapsed := time.Since(started)

		p.mu.Lock()
		p.stageTimes[stage.Name()] += elapsed
		p.mu.Unlock()

		if err != nil {
			return doc, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		doc = next
		if doc.Skipped {
			break
		}
	}
	return doc, nil
}

// Run processes a materialized document slice sequentially. Totals are known
// up front, which keeps progress reporting exact.
func (p *Pipeline) Run(ctx context.Context, docs []domain.Document) domain.RunStats {
	acc := newRunAccumulator()
	for i := range docs {
		p.runOne(ctx, &docs[i], acc, nil)
	}
	return acc.stats(len(docs), p.drainStageTimes())
}

// RunStream processes documents from a channel on a bounded worker pool.
// onDone, when set, is called once per completed document from whichever
// worker finished it; callees must be safe for concurrent use.
func (p *Pipeline) RunStream(ctx context.Context, docs <-chan domain.Document, workers int, onDone func(*domain.Document, error)) domain.RunStats {
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		// Pool creation only fails on absurd sizes; degrade to in-line.
		pool = nil
	} else {
		defer pool.Release()
	}

	acc := newRunAccumulator()
	var wg sync.WaitGroup
	total := 0

	for doc := range docs {
		if ctx.Err() != nil {
			break
		}
		total++
		d := doc
		task := func() {
			defer wg.Done()
			p.runOne(ctx, &d, acc, onDone)
		}
		wg.Add(1)
		if pool == nil || pool.Submit(task) != nil {
			task()
		}
	}
	wg.Wait()
	return acc.stats(total, p.drainStageTimes())
}

func (p *Pipeline) runOne(ctx context.Context, doc *domain.Document, acc *runAccumulator, onDone func(*domain.Document, error)) {
	p.metrics.StartDocument()
	started := time.Now()

	out, err := p.process(ctx, doc)
	elapsed := time.Since(started)

	switch {
	case err != nil:
		p.logger.Warn("document failed", "uri", doc.Raw.URI, "doc_id", doc.DocID, "error", err)
		p.metrics.FinishDocument("failed", elapsed)
		acc.failed()
	case out.Skipped:
		p.logger.Debug("document skipped", "uri", doc.Raw.URI, "reason", out.SkipReason)
		p.metrics.FinishDocument("skipped", elapsed)
		acc.skipped()
	default:
		p.metrics.FinishDocument("processed", elapsed)
		acc.processed(len(out.Chunks))
	}

	if onDone != nil {
		onDone(out, err)
	}
}

func (p *Pipeline) drainStageTimes() map[string]time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stageTimes
	p.stageTimes = make(map[string]time.Duration)
	return out
}

// runAccumulator collects run counters from concurrent workers.
type runAccumulator struct {
	mu                                    sync.Mutex
	nProcessed, nFailed, nSkipped, chunks int
	started                               time.Time
}

func newRunAccumulator() *runAccumulator {
	return &runAccumulator{started: time.Now()}
}

func (a *runAccumulator) processed(chunks int) {
	a.mu.Lock()
	a.nProcessed++
	a.chunks += chunks
	a.mu.Unlock()
}

func (a *runAccumulator) failed() {
	a.mu.Lock()
	a.nFailed++
	a.mu.Unlock()
}

func (a *runAccumulator) skipped() {
	a.mu.Lock()
	a.nSkipped++
	a.mu.Unlock()
}

func (a *runAccumulator) stats(total int, stageTimes map[string]time.Duration) domain.RunStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.RunStats{
		Total:      total,
		Processed:  a.nProcessed,
		Failed:     a.nFailed,
		Skipped:    a.nSkipped,
		Chunks:     a.chunks,
		Duration:   time.Since(a.started),
		StageTimes: stageTimes,
	}
}
