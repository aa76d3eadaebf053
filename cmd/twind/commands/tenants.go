package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mirrorform/twind-go/internal/vecstore"
)

// NewTenantsCmd constructs the `twind tenants` command group.
func NewTenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Administer tenants",
	}
	cmd.AddCommand(newTenantsEraseCmd())
	return cmd
}

func newTenantsEraseCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "erase <tenant-id>",
		Short: "Permanently delete all data belonging to a tenant",
		Long: `Erase drops the tenant's vector collection and deletes every relational
record scoped to it: sources, chunks, jobs, verified answers, and permission
grants. This is irreversible.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant := args[0]
			if !yes {
				return fmt.Errorf("tenants erase: refusing to erase %q without --yes", tenant)
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("tenants erase: %w", err)
			}
			defer st.Close()

			qcfg := loadedCfg.Qdrant
			if qcfg.VectorSize == 0 {
				qcfg.VectorSize = uint64(loadedCfg.Embedding.Primary.DefaultDimensions()) //nolint:gosec // dimensions are bounded
			}
			index, err := vecstore.NewQdrantIndex(&qcfg)
			if err != nil {
				return fmt.Errorf("tenants erase: %w", err)
			}
			defer index.Close()

			ctx := cmd.Context()
			if err := index.DropNamespace(ctx, tenant); err != nil {
				return fmt.Errorf("tenants erase: drop vectors: %w", err)
			}
			if err := st.EraseTenant(ctx, tenant); err != nil {
				return fmt.Errorf("tenants erase: %w", err)
			}

			fmt.Printf("tenant %s erased\n", tenant)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the irreversible erasure")
	return cmd
}
