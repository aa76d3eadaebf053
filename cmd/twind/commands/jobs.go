package commands

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mirrorform/twind-go/internal/store"
)

// NewJobsCmd constructs the `twind jobs` command group for job queue triage.
func NewJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and replay pipeline jobs",
	}
	cmd.AddCommand(newJobsDeadLetterCmd(), newJobsReplayCmd())
	return cmd
}

// openStore opens the relational store at the configured path.
func openStore() (*store.Store, error) {
	dbPath := loadedCfg.Store.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath)
}

func newJobsDeadLetterCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "dead-letter",
		Short: "List dead-lettered jobs for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return fmt.Errorf("jobs dead-letter: --tenant is required")
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("jobs dead-letter: %w", err)
			}
			defer st.Close()

			deadJobs, err := st.ListDeadLetters(cmd.Context(), tenant)
			if err != nil {
				return fmt.Errorf("jobs dead-letter: %w", err)
			}
			if len(deadJobs) == 0 {
				fmt.Println("no dead-lettered jobs")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB ID\tTYPE\tSOURCE\tRETRIES\tLAST ERROR")
			for _, j := range deadJobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					j.ID, j.JobType, j.SourceID, j.RetryCount, j.Error)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant whose dead letters to list")
	return cmd
}

func newJobsReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <job-id>",
		Short: "Requeue a dead-lettered job for another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("jobs replay: %w", err)
			}
			defer st.Close()

			id := args[0]
			if err := st.ReplayJob(cmd.Context(), id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("jobs replay: no dead-lettered job %s", id)
				}
				return fmt.Errorf("jobs replay: %w", err)
			}
			fmt.Printf("job %s requeued\n", id)
			return nil
		},
	}
}
