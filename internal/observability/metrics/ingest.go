package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// IngestMetrics carries the counters the ingestion core is required to emit:
// fetch/cache activity, chunk throughput and writer recovery behavior.
// Rendering and alerting live outside this repository.
type IngestMetrics struct {
	registry *prometheus.Registry

	pagesFetched    *prometheus.CounterVec
	pagesFromCache  *prometheus.CounterVec
	docsProcessed   *prometheus.CounterVec
	chunksWritten   *prometheus.CounterVec
	batchesRetried  prometheus.Counter
	batchesBisected prometheus.Counter
	pointsDropped   prometheus.Counter
	embedDegraded   prometheus.Counter
	processDuration *prometheus.HistogramVec
	docsInFlight    prometheus.Gauge
}

func NewIngestMetrics(service string) *IngestMetrics {
	registry := prometheus.NewRegistry()
	serviceLabel := prometheus.Labels{"service": service}

	pagesFetched := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "ragingest",
			Subsystem:   "crawler",
			Name:        "pages_fetched_total",
			Help:        "Pages fetched over the network by source.",
			ConstLabels: serviceLabel,
		},
		[]string{"source"},
	)
	pagesFromCache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "ragingest",
			Subsystem:   "crawler",
			Name:        "pages_from_cache_total",
			Help:        "Pages served from the crawl cache by source.",
			ConstLabels: serviceLabel,
		},
		[]string{"source"},
	)
	docsProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "ragingest",
			Subsystem:   "pipeline",
			Name:        "documents_processed_total",
			Help:        "Documents finishing the pipeline by status.",
			ConstLabels: serviceLabel,
		},
		[]string{"status"},
	)
	chunksWritten := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "ragingest",
			Subsystem:   "writer",
			Name:        "chunks_written_total",
			Help:        "Chunks committed to the vector index by source.",
			ConstLabels: serviceLabel,
		},
		[]string{"source"},
	)
	batchesRetried := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "ragingest",
		Subsystem:   "writer",
		Name:        "batches_retried_total",
		Help:        "Upsert batches that needed at least one retry.",
		ConstLabels: serviceLabel,
	})
	batchesBisected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "ragingest",
		Subsystem:   "writer",
		Name:        "batches_bisected_total",
		Help:        "Upsert batches split in half after exhausting retries.",
		ConstLabels: serviceLabel,
	})
	pointsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "ragingest",
		Subsystem:   "writer",
		Name:        "points_dropped_total",
		Help:        "Single points dropped after retries were exhausted.",
		ConstLabels: serviceLabel,
	})
	embedDegraded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "ragingest",
		Subsystem:   "writer",
		Name:        "embed_degraded_total",
		Help:        "Chunks written with a substitute zero vector.",
		ConstLabels: serviceLabel,
	})
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "ragingest",
			Subsystem:   "pipeline",
			Name:        "document_process_duration_seconds",
			Help:        "Per-document pipeline duration by status.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: serviceLabel,
		},
		[]string{"status"},
	)
	docsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "ragingest",
		Subsystem:   "pipeline",
		Name:        "documents_in_flight",
		Help:        "Documents currently inside the stage pipeline.",
		ConstLabels: serviceLabel,
	})

	registry.MustRegister(
		pagesFetched, pagesFromCache, docsProcessed, chunksWritten,
		batchesRetried, batchesBisected, pointsDropped, embedDegraded,
		processDuration, docsInFlight,
	)

	return &IngestMetrics{
		registry:        registry,
		pagesFetched:    pagesFetched,
		pagesFromCache:  pagesFromCache,
		docsProcessed:   docsProcessed,
		chunksWritten:   chunksWritten,
		batchesRetried:  batchesRetried,
		batchesBisected: batchesBisected,
		pointsDropped:   pointsDropped,
		embedDegraded:   embedDegraded,
		processDuration: processDuration,
		docsInFlight:    docsInFlight,
	}
}

func (m *IngestMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *IngestMetrics) PageFetched(source string) {
	m.pagesFetched.WithLabelValues(source).Inc()
}

func (m *IngestMetrics) PageFromCache(source string) {
	m.pagesFromCache.WithLabelValues(source).Inc()
}

func (m *IngestMetrics) StartDocument() {
	m.docsInFlight.Inc()
}

// FinishDocument closes the per-document observation. Status is one of
// processed, failed or skipped.
func (m *IngestMetrics) FinishDocument(status string, duration time.Duration) {
	m.docsInFlight.Dec()
	m.docsProcessed.WithLabelValues(status).Inc()
	m.processDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *IngestMetrics) ChunksWritten(source string, n int) {
	m.chunksWritten.WithLabelValues(source).Add(float64(n))
}

func (m *IngestMetrics) BatchRetried()  { m.batchesRetried.Inc() }
func (m *IngestMetrics) BatchBisected() { m.batchesBisected.Inc() }
func (m *IngestMetrics) PointDropped()  { m.pointsDropped.Inc() }
func (m *IngestMetrics) EmbedDegraded() { m.embedDegraded.Inc() }
