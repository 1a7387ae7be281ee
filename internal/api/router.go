package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/aidenletourneau/gated_pipeline/server/internal/logging"
	"github.com/aidenletourneau/gated_pipeline/server/internal/monitoring"
	"github.com/aidenletourneau/gated_pipeline/server/internal/registry"
)

// Deps holds everything the router serves. Runs and Metrics may be nil.
type Deps struct {
	Pipeline  Pipeline
	Logs      *logging.LogStore
	Runs      RunStore
	Watchers  *registry.Registry
	Metrics   *monitoring.Metrics
	WebSocket http.HandlerFunc
	Limiter   *rate.Limiter
}

// NewRouter wires the HTTP surface of the server
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Gated Event Pipeline Server"))
	})

	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket)
	}
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(allowCORS)
		if deps.Limiter != nil {
			r.Use(RateLimit(deps.Limiter))
		}

		r.Get("/status", HandleGetStatus(deps.Pipeline))
		r.Get("/report", HandleGetReport(deps.Pipeline))
		r.Get("/logs", HandleGetLogs(deps.Logs))
		r.Delete("/logs", HandleClearLogs(deps.Logs))
		r.Post("/producer/stop", HandleStopProducer(deps.Pipeline, deps.Logs))
		r.Post("/consumer/stop", HandleStopConsumer(deps.Pipeline, deps.Logs))
		if deps.Watchers != nil {
			r.Get("/watchers", HandleGetWatchers(deps.Watchers))
		}
		if deps.Runs != nil {
			r.Get("/runs", HandleGetRuns(deps.Runs))
			r.Get("/runs/{id}", HandleGetRun(deps.Runs))
			r.Delete("/runs/{id}", HandleDeleteRun(deps.Runs, deps.Logs))
		}
	})

	return r
}

// allowCORS sets permissive CORS headers and answers preflight requests
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit rejects requests beyond the limiter's budget with 429
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
