package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorform/twind-go/internal/logging"
	"github.com/mirrorform/twind-go/internal/retrieval"
	"github.com/mirrorform/twind-go/internal/server"
)

// NewServeCmd constructs the `twind serve` command, which starts the HTTP
// API server with an embedded job worker pool.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the twind HTTP API server",
		Long: `Start the twind HTTP API server.

The server exposes the ingestion, retrieval, verified-answer, and job
triage endpoints, plus health, readiness, and Prometheus metrics. Unless
--no-worker is set it also runs an embedded job pool, so a single process
serves the API and processes the queue.

Examples:
  twind serve
  twind serve --port 9090
  twind serve --no-worker        # API only, run `+"`twind worker`"+` separately`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			cfg := loadedCfg

			flush := setupTracing(log)
			defer flush()

			svc, err := buildServices(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer svc.Close()

			registry := prometheus.NewRegistry()

			engine := retrieval.NewEngine(
				svc.store, svc.index, svc.embed, svc.client, svc.verified,
				cfg.Retrieval.EngineConfig(), registry, log,
			)

			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			srv, err := server.New(svc.store, engine, svc.verified, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				APIKey:    cfg.Server.APIKey,
				RateLimit: cfg.Server.RateLimit,
				RateBurst: cfg.Server.RateBurst,
				Registry:  registry,
				Pingers: []server.Pinger{
					server.PingerFunc("store", svc.store.Ping),
					server.PingerFunc("qdrant", svc.index.Ping),
				},
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(ctx) })
			if !noWorker {
				pool := buildPool(svc, cfg, registry, log)
				g.Go(func() error {
					pool.Run(ctx)
					return nil
				})
				log.Info("embedded worker pool started", slog.Int("workers", cfg.Worker.JobsConfig().Workers))
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default from config)")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "Serve the API without an embedded job pool")

	return cmd
}
