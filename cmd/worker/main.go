// Package main is the entry point for the queue workers. Each queue gets its
// own pool; all pools share one store and one search client.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/grailsmarket/backend-sub003/internal/config"
	"github.com/grailsmarket/backend-sub003/internal/email"
	"github.com/grailsmarket/backend-sub003/internal/logger"
	"github.com/grailsmarket/backend-sub003/internal/observability"
	"github.com/grailsmarket/backend-sub003/internal/pipeline"
	"github.com/grailsmarket/backend-sub003/internal/search"
	"github.com/grailsmarket/backend-sub003/internal/store"
	"github.com/grailsmarket/backend-sub003/internal/store/postgres"
	"github.com/grailsmarket/backend-sub003/internal/worker"

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

	shutdownTracer, err := observability.InitTracer(ctx, "grailsync-worker", cfg.OTELEndpoint)
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

	if err := observability.RegisterQueueDepthGauge("grailsync-worker", pg.Depth); err != nil {
		log.Printf("Failed to register queue depth metric: %v", err)
	}

	go func() {
		log.Printf("Worker metrics listening on :%d", cfg.MetricsPort)
		if err := observability.ServeMetrics(cfg.MetricsPort, metricsHandler); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	// Without a configured sender address, notifications are logged instead
	// of sent. Everything else behaves the same.
	var sender email.Sender
	if cfg.SESFrom != "" {
		sesSender, err := email.NewSESSender(ctx, cfg.SESRegion, cfg.SESFrom)
		if err != nil {
			log.Fatalf("Failed to create SES sender: %v", err)
		}
		sender = sesSender
	} else {
		log.Println("SES_FROM not set, running notifications in dry-run mode")
		sender = &email.DryRunSender{Log: slog}
	}

	pipe := pipeline.New(pg, synchronizer, pg, slog)

	handlers := map[string]worker.Handler{
		store.QueueOwnershipUpdate: worker.NewOwnershipHandler(pg, pg, slog).Handle,
		store.QueueNotification:    worker.NewNotificationHandler(sender, slog).Handle,
		store.QueueExpireOrders:    worker.NewExpiryHandler(pg, pg, slog).Handle,
		store.QueueSyncMetadata:    worker.NewMetadataHandler(pipe, synchronizer, slog).Handle,
		store.QueueAnalytics:       worker.NewAnalyticsHandler(pg, slog).Handle,
		store.QueueReconcile:       worker.NewReconcileHandler(synchronizer, slog).Handle,
	}

	var pools []*worker.Pool
	for queue, handler := range handlers {
		pool := worker.NewPool(pg, worker.PoolConfig{
			Queue:             queue,
			Concurrency:       cfg.WorkerConcurrency,
			PollInterval:      cfg.WorkerPollInterval,
			MaxBackoff:        cfg.WorkerMaxBackoff,
			HeartbeatInterval: cfg.HeartbeatInterval,
			ClaimExtension:    cfg.ClaimTimeout,
		}, handler, slog)
		pools = append(pools, pool)
		go pool.Run(ctx)
	}

	log.Printf("Workers started for %d queues with concurrency %d", len(pools), cfg.WorkerConcurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down workers...")
	cancel()
	for _, pool := range pools {
		<-pool.Done()
	}
}
