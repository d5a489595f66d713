package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type ctxKey struct{}

// requestIDHeader carries the request ID in both directions.
const requestIDHeader = "X-Request-ID"

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(g.requestID, g.accessLog, middleware.Recoverer)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if g.metrics != nil {
		r.Handle(g.metricsPath, g.metrics)
	}
	for _, wh := range g.webhooks {
		r.Post(wh.path, wh.handler.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(g.requireAuth)
		}
		r.Post("/api/text", g.handleText())
		r.Post("/api/picture", g.handlePicture())
		r.Post("/api/stream", g.handleStream())
		r.Post("/api/sign-out", g.handleSignOut())
		r.Get("/ws", g.handleWebSocket())
	})

	// Admin endpoints expose other users' sessions. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(g.requireAuth)
			r.Get("/status", g.handleStatus())
			r.Get("/api/sessions/{user}", g.handleGetSession())
			r.Delete("/api/sessions/{user}", g.handleDeleteSession())
			if g.usage != nil {
				r.Get("/api/usage/{user}", g.handleGetUsage())
			}
		})
	}

	return r
}

// requestID tags every request with an ID, reusing the caller's when present.
func (g *Gateway) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// requestIDFrom returns the request ID stored by the requestID middleware.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// accessLog logs one line per request at debug level.
func (g *Gateway) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		g.logger.Debug("gateway: request",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
