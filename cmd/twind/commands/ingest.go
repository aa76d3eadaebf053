package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mirrorform/twind-go/internal/jobs"
	"github.com/mirrorform/twind-go/internal/logging"
	"github.com/mirrorform/twind-go/internal/store"
)

// NewIngestCmd constructs the `twind ingest` command, which enqueues
// ingestion jobs for one or more sources.
func NewIngestCmd() *cobra.Command {
	var tenant string
	var name string
	var priority int
	var refs []string
	var files []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Enqueue source material for ingestion into a twin's memory",
		Long: `Enqueue ingestion jobs for one or more sources.

Each source is registered (deduplicated by content hash within the tenant)
and an ingestion job is queued. A running worker pool picks the jobs up and
runs the pipeline: extract, chunk, enrich, embed, index.

Sources are given as --ref values: an http(s) URL or a local file path.
--file reads a local file's contents immediately and submits them inline,
so the worker does not need access to the file.

Examples:
  twind ingest --tenant acme --ref https://example.com/about-me.html
  twind ingest --tenant acme --ref ./bio.txt --ref ./interviews.md
  twind ingest --tenant acme --file notes.txt --priority 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			cfg := loadedCfg

			if tenant == "" {
				return fmt.Errorf("ingest: --tenant is required")
			}
			if len(refs) == 0 && len(files) == 0 {
				return fmt.Errorf("ingest: at least one --ref or --file is required")
			}

			dbPath := cfg.Store.Path
			if dbPath == "" {
				var err error
				dbPath, err = store.DefaultDBPath()
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("ingest: open store: %w", err)
			}
			defer st.Close()

			enqueue := func(displayName, hashInput string, meta map[string]string) error {
				if name != "" && len(refs)+len(files) == 1 {
					displayName = name
				}
				src, err := st.UpsertSourceByHash(ctx, tenant, displayName, meta[jobs.MetaRef], store.HashContent(hashInput))
				if err != nil {
					return err
				}
				jobID, err := st.EnqueueJob(ctx, src.ID, tenant, jobs.TypeIngestion, priority, meta)
				if err != nil {
					return err
				}
				log.Info("ingestion queued",
					slog.String("source_id", src.ID),
					slog.String("job_id", jobID),
					slog.String("name", displayName),
				)
				return nil
			}

			for _, ref := range refs {
				if err := enqueue(ref, ref, map[string]string{jobs.MetaRef: ref}); err != nil {
					return fmt.Errorf("ingest: %s: %w", ref, err)
				}
			}
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: read %s: %w", path, err)
				}
				if err := enqueue(path, string(data), map[string]string{jobs.MetaContent: string(data)}); err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}
			}

			log.Info("ingestion enqueued", slog.Int("sources", len(refs)+len(files)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant (twin) the sources belong to")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name override for a single source")
	cmd.Flags().IntVar(&priority, "priority", 0, "Job priority, higher runs first")
	cmd.Flags().StringArrayVarP(&refs, "ref", "r", nil, "Source reference: URL or file path (repeatable)")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Local file whose contents are submitted inline (repeatable)")

	return cmd
}
