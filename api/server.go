/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack, and the route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  unique ID per request for tracing
  2. RealIP:     client address behind proxies
  3. Recoverer:  panic recovery (500 instead of crash)
  4. requestLogger: one structured zap line per request
  5. CORS:       cross-origin requests for dashboard frontends

SECURITY NOTE:
  No authentication middleware. Authentication and authorization are the
  surrounding system's concern; this service trusts its callers.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Ledger operations
		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.QueryStock)
			r.Post("/receive", h.Receive)
			r.Post("/issue", h.Issue)
			r.Post("/reserve", h.Reserve)
			r.Post("/unreserve", h.Unreserve)
			r.Post("/adjust", h.Adjust)
			r.Route("/{item}/{location}", func(r chi.Router) {
				r.Get("/", h.GetRecord)
				r.Put("/thresholds", h.SetThresholds)
				r.Put("/active", h.SetActive)
			})
		})

		// Multi-line receipts (per-line atomicity)
		r.Post("/receipts", h.ApplyReceipt)

		// Movement history
		r.Get("/transactions", h.QueryHistory)

		// Read projections
		r.Get("/reports/valuation", h.Valuation)

		// Chain-integrity audit
		r.Get("/audit/{item}/{location}", h.Audit)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// requestLogger emits one structured line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
