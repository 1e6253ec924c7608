package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mahgate",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the gateway",
		},
		[]string{"route", "method", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mahgate",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests handled by the gateway",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mahgate",
			Name:      "cache_hits_total",
			Help:      "Total cache hits",
		},
		[]string{"route"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mahgate",
			Name:      "cache_misses_total",
			Help:      "Total cache misses",
		},
		[]string{"route"},
	)

	offlineResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mahgate",
			Name:      "offline_responses_total",
			Help:      "Responses served from the offline fallback path",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mahgate",
			Name:      "pending_forms",
			Help:      "Form submissions waiting in the local queue",
		},
	)

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mahgate",
			Name:      "sync_attempts_total",
			Help:      "Queued form delivery attempts by result",
		},
		[]string{"result"},
	)

	originUnhealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mahgate",
			Name:      "origin_unhealthy_endpoints",
			Help:      "Number of unhealthy origin endpoints",
		},
	)

	blockedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mahgate",
			Name:      "blocked_requests_total",
			Help:      "Requests refused by the IP blocklist",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		requestTotal,
		requestDuration,
		cacheHits,
		cacheMisses,
		offlineResponses,
		queueDepth,
		syncAttempts,
		originUnhealthy,
		blockedRequests,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(route, method, code string, d time.Duration) {
	requestTotal.WithLabelValues(route, method, code).Inc()
	requestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func IncCacheHit(route string) {
	cacheHits.WithLabelValues(route).Inc()
}

func IncCacheMiss(route string) {
	cacheMisses.WithLabelValues(route).Inc()
}

func IncOfflineResponse() {
	offlineResponses.Inc()
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func IncSyncAttempt(result string) {
	syncAttempts.WithLabelValues(result).Inc()
}

func SetOriginUnhealthy(value float64) {
	originUnhealthy.Set(value)
}

func IncBlockedRequest() {
	blockedRequests.Inc()
}
