// file: internal/metrics/metrics.go
// version: 1.1.0
// guid: 9f8e7d6c-5b4a-3210-9fed-cba876543210

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	remoteRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mangadeck",
		Name:      "remote_requests_total",
		Help:      "Total number of remote API calls by endpoint and outcome",
	}, []string{"endpoint", "outcome"})
	pagesCached = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mangadeck",
		Name:      "pages_cached_total",
		Help:      "Total number of pages written to the local cache",
	})
	coversTranscoded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mangadeck",
		Name:      "covers_transcoded_total",
		Help:      "Total number of covers normalized to the thumbnail format",
	})
	progressUploaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mangadeck",
		Name:      "progress_uploads_total",
		Help:      "Total number of offline progress records uploaded by outcome",
	}, []string{"outcome"})

	connectionOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mangadeck",
		Name:      "connection_online",
		Help:      "1 when connected to the remote server, 0 when offline",
	})
	progressPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mangadeck",
		Name:      "offline_progress_pending",
		Help:      "Current number of offline progress records awaiting upload",
	})
	sseClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mangadeck",
		Name:      "sse_clients",
		Help:      "Number of currently connected SSE clients",
	})
	cacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mangadeck",
		Name:      "cache_size_bytes",
		Help:      "Total size of the image cache directory in bytes",
	})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(remoteRequests, pagesCached, coversTranscoded, progressUploaded,
			connectionOnline, progressPending, sseClients, cacheSizeBytes)
	})
}

// Remote call outcomes
func IncRemoteRequest(endpoint, outcome string) {
	remoteRequests.WithLabelValues(endpoint, outcome).Inc()
}

// Cache activity
func IncPagesCached()      { pagesCached.Inc() }
func IncCoversTranscoded() { coversTranscoded.Inc() }

// Upload reconciliation
func IncProgressUploaded(outcome string) { progressUploaded.WithLabelValues(outcome).Inc() }

// Gauges
func SetOnline(online bool) {
	if online {
		connectionOnline.Set(1)
	} else {
		connectionOnline.Set(0)
	}
}
func SetProgressPending(n int)  { progressPending.Set(float64(n)) }
func SetSSEClients(n int)       { sseClients.Set(float64(n)) }
func SetCacheSizeBytes(b int64) { cacheSizeBytes.Set(float64(b)) }
