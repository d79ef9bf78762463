package bookworm

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var upstreamSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "bookworm_upstream_request_seconds",
	Help:    "Latency of calls to the Bookworm counting API.",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
}, []string{"method", "code"})

func observeUpstream(q Query, code int, elapsed time.Duration) {
	method := q.Method
	if method == "" {
		method = MethodData
	}
	upstreamSeconds.WithLabelValues(method, strconv.Itoa(code)).Observe(elapsed.Seconds())
}
