package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"nsefetch/pkg/config"
	"nsefetch/pkg/logger"
	"nsefetch/pkg/ratelimit"
)

// NewRouter wires the routes. When limiter is non-nil, /api requests it
// does not admit are answered 429 without reaching the exchange.
func NewRouter(h *Handler, limiter ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(chiMiddleware.Recoverer)

	r.Get("/", h.Health)

	r.Route("/api", func(r chi.Router) {
		if limiter != nil {
			r.Use(admit(limiter))
		}
		r.Get("/hello", h.Hello)
		r.Get("/status", h.Status)
		r.Get("/holidays", h.Holidays)
		r.Get("/quote/{symbol}", h.Quote)
		r.Get("/option-chain/{symbol}", h.OptionChain)
		r.Get("/gainers/{index}", h.Gainers)
		r.Get("/losers/{index}", h.Losers)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, http.StatusNotFound, "no such route")
	})
	return r
}

func admit(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				Error(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.DebugWithFields("http request", map[string]interface{}{
				"request_id": chiMiddleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"elapsed_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}

// Run serves handler on cfg.Addr until ctx is done, then shuts down
// gracefully
func Run(ctx context.Context, cfg config.ServerConfig, handler http.Handler, log logger.Logger) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.InfoWithFields("server listening", map[string]interface{}{"addr": cfg.Addr})
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
