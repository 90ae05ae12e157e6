// ABOUTME: HTTP routing and middleware for the gateway
// ABOUTME: chi router with request IDs, access logging, panic recovery and bearer auth groups

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/2389/rollcall-gateway/internal/auth"
)

const (
	webhookPath = "/webhook/twilio"
	messagePath = "/api/message"

	requestIDHeader = "X-Request-ID"
)

type requestIDKey struct{}

// routes builds the gateway router. Health and the Twilio webhook are
// public; the JSON API and debug endpoints sit behind bearer auth when a
// JWT secret is configured.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger(g.logger))
	r.Use(recoverer(g.logger))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	r.Post(webhookPath, g.handleTwilioWebhook)

	// A nil *JWTVerifier must not reach the middleware as a non-nil interface.
	var verifier auth.TokenVerifier
	if g.verifier != nil {
		verifier = g.verifier
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(verifier))

		r.Post(messagePath, g.handleMessage)
		r.Route("/debug", func(r chi.Router) {
			r.Get("/sessions", g.handleDebugSessions)
			r.Get("/ledger", g.handleDebugLedger)
			r.Get("/commits", g.handleDebugCommits)
			r.Get("/stream", g.handleDebugStream)
		})
	})

	return r
}

// requestID tags each request with a uuid in X-Request-ID, reusing one
// supplied by a proxy. chi's RequestID neither uses uuids nor echoes the header.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// requestIDFrom returns the request ID set by the requestID middleware.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestLogger logs method, path, status and duration of each request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debug("request",
				"request_id", requestIDFrom(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"remote", r.RemoteAddr,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// recoverer turns a handler panic into a 500 and logs it with the stack.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						"request_id", requestIDFrom(r.Context()),
						"path", r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()))
					writeJSONError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
