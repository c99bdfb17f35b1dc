package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the retrieval engine.
type Metrics struct {
	DocumentsIngestedTotal *prometheus.CounterVec
	ChunksIndexedTotal     prometheus.Counter
	EmbeddingRequestsTotal *prometheus.CounterVec
	EmbeddingDuration      prometheus.Histogram
	RetrievalsTotal        *prometheus.CounterVec
	RetrievalDuration      prometheus.Histogram
	AnswersTotal           *prometheus.CounterVec
	IndexSize              prometheus.Gauge
	CorpusDocuments        prometheus.Gauge
}

// NewMetrics creates and registers the metrics with the default registry.
// Registration happens once per process; later calls return the same set.
//
// Metrics:
//   - policyrag_documents_ingested_total{result}
//   - policyrag_chunks_indexed_total
//   - policyrag_embedding_requests_total{kind,result}
//   - policyrag_embedding_duration_seconds
//   - policyrag_retrievals_total{result}
//   - policyrag_retrieval_duration_seconds
//   - policyrag_answers_total{result}
//   - policyrag_index_size
//   - policyrag_corpus_documents
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			DocumentsIngestedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "policyrag_documents_ingested_total",
					Help: "Total number of document ingestion attempts",
				},
				[]string{"result"},
			),

			ChunksIndexedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "policyrag_chunks_indexed_total",
					Help: "Total number of chunks added to the vector index",
				},
			),

			EmbeddingRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "policyrag_embedding_requests_total",
					Help: "Total number of embedding provider calls",
				},
				[]string{"kind", "result"}, // kind: "document" or "query"
			),

			EmbeddingDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "policyrag_embedding_duration_seconds",
					Help:    "Duration of embedding provider calls in seconds",
					Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
				},
			),

			RetrievalsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "policyrag_retrievals_total",
					Help: "Total number of retrievals",
				},
				[]string{"result"},
			),

			RetrievalDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "policyrag_retrieval_duration_seconds",
					Help:    "End-to-end retrieval latency in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
				},
			),

			AnswersTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "policyrag_answers_total",
					Help: "Total number of generated answers",
				},
				[]string{"result"}, // "ok", "no_context" or "error"
			),

			IndexSize: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "policyrag_index_size",
					Help: "Current number of entries in the vector index",
				},
			),

			CorpusDocuments: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "policyrag_corpus_documents",
					Help: "Current number of documents in the corpus",
				},
			),
		}
	})

	return globalMetrics
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordIngestion records one document ingestion attempt.
func (m *Metrics) RecordIngestion(chunks int, err error) {
	if m == nil {
		return
	}
	m.DocumentsIngestedTotal.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		m.ChunksIndexedTotal.Add(float64(chunks))
	}
}

// RecordEmbedding records one call to the embedding provider.
func (m *Metrics) RecordEmbedding(kind string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.EmbeddingRequestsTotal.WithLabelValues(kind, resultLabel(err)).Inc()
	m.EmbeddingDuration.Observe(time.Since(started).Seconds())
}

// RecordRetrieval records one retrieval.
func (m *Metrics) RecordRetrieval(started time.Time, err error) {
	if m == nil {
		return
	}
	m.RetrievalsTotal.WithLabelValues(resultLabel(err)).Inc()
	m.RetrievalDuration.Observe(time.Since(started).Seconds())
}

// RecordAnswer records the outcome of an answer request.
func (m *Metrics) RecordAnswer(result string) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(result).Inc()
}

// SetCorpusSize updates the corpus and index gauges.
func (m *Metrics) SetCorpusSize(documents, entries int) {
	if m == nil {
		return
	}
	m.CorpusDocuments.Set(float64(documents))
	m.IndexSize.Set(float64(entries))
}
