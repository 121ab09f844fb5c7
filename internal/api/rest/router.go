package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/infrasage/infrasage/internal/api/middleware"
)

// RouterOptions configure NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *zap.Logger

	// RateLimiter limits POST /reason per client; nil disables limiting.
	RateLimiter *middleware.RateLimiter

	// WebSocket serves /ws/insights when set.
	WebSocket http.Handler
}

// NewRouter assembles the full HTTP surface: health, metrics, the
// WebSocket stream and /api/v1, wrapped in CORS and tracing.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.CorrelationID)
	router.Use(middleware.Logging(opts.Logger))
	router.Use(middleware.Recovery(opts.Logger))

	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if opts.WebSocket != nil {
		router.Handle("/ws/insights", opts.WebSocket).Methods(http.MethodGet)
	}

	var limit mux.MiddlewareFunc
	if opts.RateLimiter != nil {
		limit = opts.RateLimiter.Middleware
	}
	api := router.PathPrefix("/api/v1").Subrouter()
	SetupRoutes(api, h, limit)

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.CorrelationIDHeader},
		ExposedHeaders:   []string{middleware.CorrelationIDHeader, middleware.TraceIDHeader, AuditIncompleteHeader},
		AllowCredentials: true,
	})
	return middleware.Tracing(c.Handler(router))
}
