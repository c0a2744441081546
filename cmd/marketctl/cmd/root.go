package cmd

import (
	"context"
	"fmt"

	"github.com/grailsmarket/backend-sub003/internal/config"
	"github.com/grailsmarket/backend-sub003/internal/logger"
	"github.com/grailsmarket/backend-sub003/internal/search"
	"github.com/grailsmarket/backend-sub003/internal/store/postgres"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "marketctl",
	Short: "marketctl operates the market sync pipeline",
	Long: `marketctl is the operator CLI for the market sync backend.

The live path (trigger -> notify channel -> listener -> index) is lossy by
design: events emitted while no listener is connected are gone. These
commands are the manual repair loop for the drift that causes, plus schema
and queue management.

Common workflows:

  Run database migrations (tables, triggers, job queue):
    marketctl migrate

  Create the search index, or check it matches the expected schema:
    marketctl schema

  Rewrite the whole store into the index and delete orphans:
    marketctl resync

  Report index documents with no store row:
    marketctl orphans

  Report field-level disagreements between index and store:
    marketctl drift

  Inject a job by hand:
    marketctl enqueue ownership-update '{"entity_id":"...","new_owner":"0x..."}'

Configuration comes from the environment (DATABASE_URL, ELASTICSEARCH_URL)
or a grailsync.yaml file.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: grailsync.yaml in current directory)")
}

// deps bundles everything a command might need; close when done.
type deps struct {
	cfg  *config.Config
	pg   *postgres.Store
	sync *search.Synchronizer
}

func (d *deps) Close() {
	if d.pg != nil {
		d.pg.Close()
	}
}

func buildDeps(ctx context.Context, needSearch bool) (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL, postgres.Options{
		MaxRetries:   cfg.JobMaxRetries,
		RetryDelay:   cfg.JobRetryDelay,
		ClaimTimeout: cfg.ClaimTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	d := &deps{cfg: cfg, pg: pg}
	if needSearch {
		es, err := search.NewClient([]string{cfg.ElasticsearchURL})
		if err != nil {
			pg.Close()
			return nil, err
		}
		d.sync = search.NewSynchronizer(es, pg, search.Config{
			Index:         cfg.ElasticsearchIndex,
			Schema:        search.Schema{NGramMin: cfg.NGramMin, NGramMax: cfg.NGramMax},
			PageSize:      cfg.ReconcilePageSize,
			ReconcileRate: rate.Limit(cfg.ReconcileRate),
		}, logger.New())
	}
	return d, nil
}
