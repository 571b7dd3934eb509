package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// RetrievalTierTotal counts answered questions by the retrieval tier
	// that produced the final answer.
	RetrievalTierTotal *prometheus.CounterVec

	// ModelCallLatency records chat model call latency by purpose
	// (classify, rewrite, answer, title, ...).
	ModelCallLatency *prometheus.HistogramVec

	EmbedCacheHitsTotal   prometheus.Counter
	EmbedCacheMissesTotal prometheus.Counter

	// DocumentsIngestedTotal counts successfully ingested documents.
	DocumentsIngestedTotal prometheus.Counter

	// SegmentsIndexedTotal counts vector entries written during ingestion.
	SegmentsIndexedTotal prometheus.Counter

	// LifecycleDeletesTotal counts delete fanouts by resource and outcome.
	LifecycleDeletesTotal *prometheus.CounterVec
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server. Safe to call multiple times;
// only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_service_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledge_service_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RetrievalTierTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_service_retrieval_tier_total",
			Help: "Questions answered by final retrieval tier",
		},
		[]string{"tier"},
	)

	ModelCallLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knowledge_service_model_call_latency_seconds",
			Help:    "Chat model call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"purpose"},
	)

	EmbedCacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "knowledge_service_embed_cache_hits_total",
		Help: "Total embedding cache hits",
	})

	EmbedCacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "knowledge_service_embed_cache_misses_total",
		Help: "Total embedding cache misses",
	})

	DocumentsIngestedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "knowledge_service_documents_ingested_total",
		Help: "Total documents ingested",
	})

	SegmentsIndexedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "knowledge_service_segments_indexed_total",
		Help: "Total document segments written to the vector store",
	})

	LifecycleDeletesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_service_lifecycle_deletes_total",
			Help: "Delete fanouts by resource and outcome",
		},
		[]string{"resource", "outcome"},
	)
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
