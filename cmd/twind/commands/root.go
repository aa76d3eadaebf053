// Package commands defines all Cobra CLI commands for the twind binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/mirrorform/twind-go/internal/audit"
	"github.com/mirrorform/twind-go/internal/config"
	"github.com/mirrorform/twind-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedCfg holds the configuration resolved in the root PersistentPreRunE,
// shared by all subcommands.
var loadedCfg *config.Config

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "twind",
		Short: "twind — ingestion and retrieval backend for digital-twin memory",
		Long: `twind is the content-processing and retrieval backend for digital twins.

It ingests source material through an asynchronous job pipeline (extract,
chunk, enrich, embed, index) and answers queries with verified-first hybrid
retrieval over per-tenant vector collections.

Configuration is layered: defaults, then a YAML config file
(~/.twind/config.yaml), then environment variables. Env always wins.
See 'twind --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedCfg = cfg
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.twind/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewWorkerCmd(),
		NewIngestCmd(),
		NewJobsCmd(),
		NewTenantsCmd(),
		NewVersionCmd(),
	)

	return root
}
