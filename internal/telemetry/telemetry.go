// Package telemetry exposes Prometheus metrics and a liveness endpoint
// for the indexer process.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics is the full set of counters/histograms the indexer registers.
// All but MigrationsApplied are updated as the indexer runs; the indexer
// never increments MigrationsApplied.
type Metrics struct {
	PagesFetched      prometheus.Counter
	ItemsPersisted    prometheus.Counter
	FetchErrors       prometheus.Counter
	FetchLatency      prometheus.Histogram
	RateLimitStalls   prometheus.Counter
	RateLimitStallDur prometheus.Histogram
	MigrationsApplied prometheus.Counter
}

// NewMetrics registers and returns a fresh Metrics set against reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_indexer_pages_fetched_total",
			Help: "Number of public-stash-tabs pages successfully fetched and decoded.",
		}),
		ItemsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_indexer_items_persisted_total",
			Help: "Number of item rows written to the analytics store.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_indexer_fetch_errors_total",
			Help: "Number of fetch attempts that ended in an error.",
		}),
		FetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stash_indexer_fetch_duration_seconds",
			Help:    "Latency of a single page fetch, gate included.",
			Buckets: prometheus.DefBuckets,
		}),
		RateLimitStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_indexer_rate_limit_stalls_total",
			Help: "Number of times the rate-limit gate proactively stalled.",
		}),
		RateLimitStallDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stash_indexer_rate_limit_stall_seconds",
			Help:    "Duration of proactive rate-limit stalls.",
			Buckets: prometheus.DefBuckets,
		}),
		MigrationsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_indexer_migrations_applied_total",
			Help: "Number of migration files applied by the migration tool.",
		}),
	}

	reg.MustRegister(
		m.PagesFetched, m.ItemsPersisted, m.FetchErrors,
		m.FetchLatency, m.RateLimitStalls, m.RateLimitStallDur, m.MigrationsApplied,
	)
	return m
}

// Server serves /metrics and /healthz on its own port, separate from the
// crawl loop so health checks never block on the rate-limit gate.
type Server struct {
	http *http.Server
}

// NewServer builds the telemetry HTTP server bound to addr.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)

	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{http: &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		log.Debug().Str("request_id", id).Str("path", r.URL.Path).Msg("telemetry: request")
		next.ServeHTTP(w, r)
	})
}
