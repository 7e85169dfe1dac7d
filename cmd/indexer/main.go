// Command stash-indexer runs the continuous public-stash-tabs crawler:
// it walks the upstream change-id chain, normalizes item records, and
// bulk-loads them into the analytics store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/stash-indexer/internal/auth"
	"github.com/sawpanic/stash-indexer/internal/bootstrap"
	"github.com/sawpanic/stash-indexer/internal/config"
	"github.com/sawpanic/stash-indexer/internal/fetch"
	"github.com/sawpanic/stash-indexer/internal/logging"
	"github.com/sawpanic/stash-indexer/internal/pipeline"
	"github.com/sawpanic/stash-indexer/internal/ratelimit"
	"github.com/sawpanic/stash-indexer/internal/resilience"
	"github.com/sawpanic/stash-indexer/internal/store"
	"github.com/sawpanic/stash-indexer/internal/telemetry"
)

var (
	logLevel   string
	prettyLog  bool
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "stash-indexer",
	Short: "Crawl the public-stash-tabs feed into the analytics store",
	RunE:  runIndexer,
}

func init() {
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "zerolog level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&prettyLog, "pretty-log", false, "use a human-readable console log writer instead of JSON")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "metrics/health listen address (default :HTTP_PORT)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runIndexer(cmd *cobra.Command, args []string) error {
	logging.Init(logLevel, prettyLog)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("indexer: load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	addr := listenAddr
	if addr == "" {
		addr = ":" + cfg.HTTPPort
	}
	telemetrySrv := telemetry.NewServer(addr, reg)
	go func() {
		if err := telemetrySrv.Run(ctx); err != nil {
			log.Error().Err(err).Msg("indexer: telemetry server stopped")
		}
	}()

	cache, err := auth.NewRedisCache(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("indexer: connect redis: %w", err)
	}
	tokens := auth.NewProvider(cfg, cache, nil)

	analyticsStore, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("indexer: open clickhouse: %w", err)
	}
	defer analyticsStore.Close()

	buffered := store.NewBufferedItemStore(analyticsStore, store.DefaultFlushInterval)
	defer func() {
		if err := buffered.Close(); err != nil {
			log.Error().Err(err).Msg("indexer: final buffer flush failed")
		}
	}()

	gate := ratelimit.New()
	gate.StallCount = metrics.RateLimitStalls
	gate.StallDuration = metrics.RateLimitStallDur

	breaker := resilience.New("public-stash-tabs", resilience.DefaultConfig())

	fetcher := fetch.New(gate, tokens, cfg.BaseURL, cfg.UserAgent())
	fetcher.Breaker = breaker
	fetcher.PagesFetched = metrics.PagesFetched
	fetcher.FetchErrors = metrics.FetchErrors
	fetcher.FetchLatency = metrics.FetchLatency

	initialChangeID, err := bootstrap.NextChangeID(ctx, nil, cfg.BootstrapURL)
	if err != nil {
		return fmt.Errorf("indexer: fetch bootstrap change id: %w", err)
	}
	log.Info().Str("change_id", initialChangeID).Msg("indexer: starting crawl")

	pipe := pipeline.New(fetcher, buffered, nil)
	pipe.ItemsPersisted = metrics.ItemsPersisted

	if err := pipe.Run(ctx, initialChangeID); err != nil {
		return fmt.Errorf("indexer: pipeline run: %w", err)
	}

	log.Info().Msg("indexer: shutdown complete")
	return nil
}
