// Package main is the entry point for the change listener daemon. It
// subscribes to the Postgres notify channel, re-reads changed rows, and keeps
// the search index in step with the store.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/grailsmarket/backend-sub003/internal/config"
	"github.com/grailsmarket/backend-sub003/internal/logger"
	"github.com/grailsmarket/backend-sub003/internal/notify"
	"github.com/grailsmarket/backend-sub003/internal/observability"
	"github.com/grailsmarket/backend-sub003/internal/pipeline"
	"github.com/grailsmarket/backend-sub003/internal/search"
	"github.com/grailsmarket/backend-sub003/internal/store/postgres"

	"golang.org/x/time/rate"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: grailsync.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slog := logger.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := postgres.New(ctx, cfg.DatabaseURL, postgres.Options{
		MaxRetries:   cfg.JobMaxRetries,
		RetryDelay:   cfg.JobRetryDelay,
		ClaimTimeout: cfg.ClaimTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pg.Close()

	es, err := search.NewClient([]string{cfg.ElasticsearchURL})
	if err != nil {
		log.Fatalf("Failed to create search client: %v", err)
	}

	synchronizer := search.NewSynchronizer(es, pg, search.Config{
		Index:         cfg.ElasticsearchIndex,
		Schema:        search.Schema{NGramMin: cfg.NGramMin, NGramMax: cfg.NGramMax},
		PageSize:      cfg.ReconcilePageSize,
		ReconcileRate: rate.Limit(cfg.ReconcileRate),
	}, slog)

	if err := synchronizer.EnsureSchema(ctx); err != nil {
		if errors.Is(err, search.ErrSchemaMismatch) {
			log.Fatalf("Index schema out of date, run 'marketctl schema --recreate' (destructive): %v", err)
		}
		log.Fatalf("Failed to ensure index schema: %v", err)
	}

	shutdownTracer, err := observability.InitTracer(ctx, "grailsync-listener", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	go func() {
		log.Printf("Listener metrics listening on :%d", cfg.MetricsPort)
		if err := observability.ServeMetrics(cfg.MetricsPort, metricsHandler); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	pipe := pipeline.New(pg, synchronizer, pg, slog)
	listener := notify.NewListener(cfg.DatabaseURL, notify.Config{
		Channel:    cfg.ListenChannel,
		BufferSize: cfg.ListenerBuffer,
	}, pipe.HandleEvent, slog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- listener.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down listener...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			// unrecoverable startup failure: exit and let supervision restart
			log.Fatalf("Listener stopped: %v", err)
		}
	}
}
