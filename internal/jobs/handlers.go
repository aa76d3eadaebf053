package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/mirrorform/twind-go/internal/extract"
	"github.com/mirrorform/twind-go/internal/processor"
	"github.com/mirrorform/twind-go/internal/store"
)

// Job types understood by the pool.
const (
	// TypeIngestion extracts and indexes one source.
	TypeIngestion = "ingestion"
	// TypeDeletion removes one source from every store.
	TypeDeletion = "deletion"
)

// Metadata keys set by job producers.
const (
	// MetaRef is the content reference handed to the extractor.
	MetaRef = "ref"
	// MetaContent carries inline content submitted directly through the API,
	// bypassing extraction.
	MetaContent = "content"
)

// NewIngestionHandler returns the handler for ingestion jobs: extract the
// referenced content and run it through the processing pipeline. Extraction
// failures are recorded on the source so the API surfaces why it never went
// live.
func NewIngestionHandler(st *store.Store, reg *extract.Registry, proc *processor.Processor) Handler {
	return func(ctx context.Context, job *store.Job) error {
		if text := job.Metadata[MetaContent]; text != "" {
			if _, err := proc.Process(ctx, job.TenantID, job.SourceID, text); err != nil {
				return fmt.Errorf("process source %s: %w", job.SourceID, err)
			}
			return nil
		}

		ref := job.Metadata[MetaRef]
		if ref == "" {
			return &extract.ExtractError{
				Code:      extract.CodeUnsupported,
				Message:   "job carries no content reference",
				Retryable: false,
			}
		}

		text, err := reg.Extract(ctx, ref)
		if err != nil {
			failure := store.SourceFailure{Code: "extract_failed", Message: err.Error(), Step: "extract"}
			var ee *extract.ExtractError
			if errors.As(err, &ee) {
				failure.Code = ee.Code
			}
			if serr := st.SetSourceError(ctx, job.SourceID, failure); serr != nil {
				return fmt.Errorf("record extract failure for source %s: %w", job.SourceID, serr)
			}
			return fmt.Errorf("ingest source %s: %w", job.SourceID, err)
		}

		if _, err := proc.Process(ctx, job.TenantID, job.SourceID, text); err != nil {
			return fmt.Errorf("process source %s: %w", job.SourceID, err)
		}
		return nil
	}
}

// NewDeletionHandler returns the handler for deletion jobs.
func NewDeletionHandler(proc *processor.Processor) Handler {
	return func(ctx context.Context, job *store.Job) error {
		if err := proc.DeleteSource(ctx, job.TenantID, job.SourceID); err != nil {
			return fmt.Errorf("delete source %s: %w", job.SourceID, err)
		}
		return nil
	}
}
