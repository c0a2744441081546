// Package main is the entry point for the scheduler: cron definitions,
// stale-claim reaping, and archive sweeps. Run exactly one instance.
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
	"github.com/grailsmarket/backend-sub003/internal/scheduler"
	"github.com/grailsmarket/backend-sub003/internal/store/postgres"
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

	sched := scheduler.New(pg, scheduler.Config{
		Retention: cfg.ArchiveRetention,
	}, slog)

	for _, def := range scheduler.DefaultDefinitions() {
		if err := sched.Register(def); err != nil {
			log.Fatalf("Failed to register %s: %v", def.Name, err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- sched.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down scheduler...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Scheduler stopped: %v", err)
		}
	}
}
