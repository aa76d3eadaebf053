package extract

import (
	"context"
	"os"
)

// FileExtractor reads local files as UTF-8 text. Binary formats (PDF, audio)
// are connector territory; this extractor handles the plain-text uploads the
// ingest CLI produces.
type FileExtractor struct{}

// Extract reads the file at ref.
func (e *FileExtractor) Extract(_ context.Context, ref string) (string, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &ExtractError{
				Code:      CodeUnreachable,
				Message:   "file not found: " + ref,
				Retryable: false,
			}
		}
		return "", &ExtractError{
			Code:      CodeUnreachable,
			Message:   "read file: " + err.Error(),
			Retryable: true,
		}
	}
	return string(data), nil
}
