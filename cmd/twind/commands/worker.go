package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mirrorform/twind-go/internal/logging"
)

// NewWorkerCmd constructs the `twind worker` command, which runs a
// standalone job worker pool against the shared queue.
func NewWorkerCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone twind job worker pool",
		Long: `Run a standalone job worker pool.

Workers poll the shared job queue, claim due jobs atomically, and run the
ingestion pipeline (extract, chunk, enrich, embed, index) or deletion.
Multiple worker processes may share one queue; claims never overlap.

Examples:
  twind worker
  twind worker --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			cfg := loadedCfg

			flush := setupTracing(log)
			defer flush()

			if workers > 0 {
				cfg.Worker.Workers = workers
			}

			svc, err := buildServices(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer svc.Close()

			pool := buildPool(svc, cfg, prometheus.NewRegistry(), log)
			log.Info("worker pool starting",
				slog.Int("workers", cfg.Worker.JobsConfig().Workers),
				slog.String("worker_id", workerID()),
			)
			pool.Run(ctx)
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of worker goroutines (default from config)")

	return cmd
}
