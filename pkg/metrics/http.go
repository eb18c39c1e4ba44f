package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestRecorder records HTTP request metrics.
type RequestRecorder interface {
	Record(resTime time.Duration, hasErr bool)
}

type requests struct {
	reqCount prometheus.Counter
	errCount prometheus.Counter
	resTime  prometheus.Summary
}

// NewRequestMetrics constructs a RequestRecorder registered with reg.
func NewRequestMetrics(namespace string, reg prometheus.Registerer) RequestRecorder {
	m := &requests{
		reqCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "The total number of processed requests",
		}),
		errCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "The total number of 500 responses",
		}),
		resTime: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "http_response_time",
			Help:      "Response times",
		}),
	}
	reg.MustRegister(m.reqCount, m.errCount, m.resTime)
	return m
}

func (m *requests) Record(resTime time.Duration, hasErr bool) {
	m.reqCount.Inc()
	m.resTime.Observe(resTime.Seconds())
	if hasErr {
		m.errCount.Inc()
	}
}

// Handler wraps next so every request is recorded by m.
func Handler(m RequestRecorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if m == nil {
			next.ServeHTTP(w, req)
			return
		}

		wrapW := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(wrapW, req)
		m.Record(time.Since(start), wrapW.statusCode == http.StatusInternalServerError)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
