// Package httptransport assembles the HTTP surface. Route semantics live in
// the domain handler packages; this wires them together with the platform
// middleware chain and the operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	consenthandler "katha/internal/consent/handler"
	passporthandler "katha/internal/passport/handler"
	"katha/internal/platform/metrics"
	"katha/internal/platform/middleware"
	"katha/pkg/platform/httputil"
)

const requestTimeout = 30 * time.Second

// NewRouter wires all endpoints behind the shared middleware chain.
func NewRouter(
	consentH *consenthandler.Handler,
	passportH *passporthandler.Handler,
	m *metrics.Metrics,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Latency(m))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	consentH.Register(r)
	passportH.Register(r)

	return r
}
