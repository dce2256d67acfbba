package api

import (
	"net/http"
	"strconv"

	"github.com/orbitctl/orbit/pkg/metrics"
)

// statusRecorder captures the status code written by the wrapped handler
// so it can be fed to the request-count metric after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps h so every call records orbit_api_requests_total and
// orbit_api_request_duration_seconds under method.
func instrument(method string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(rec.status)).Inc()
	})
}
