package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reconhawk/reconhawk-stack/common/middleware"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/handlers"
)

// NewRouter constructs the correlation API router.
func NewRouter(h *handlers.Handler, allowedOrigins []string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/correlations/run", h.RunCorrelations)
	mux.HandleFunc("GET /api/v1/correlations", h.ListCorrelations)
	mux.HandleFunc("GET /api/v1/correlations/{id}", h.GetCorrelation)

	mux.HandleFunc("GET /api/v1/rules", h.ListRules)
	mux.HandleFunc("POST /api/v1/rules/reload", h.ReloadRules)

	var handler http.Handler = mux
	if len(allowedOrigins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", middleware.RequestIDHeader},
			MaxAge:         3600,
		})(handler)
	}
	if logger != nil {
		handler = middleware.AccessLog(logger)(handler)
	}
	return middleware.RequestID(handler)
}
