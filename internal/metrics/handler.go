package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus metrics HTTP handler, mounted by the
// Supervisor at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
