package retrieval

import (
	"context"

	"github.com/mirrorform/twind-go/internal/store"
)

// EventType discriminates stream events.
type EventType string

const (
	// EventMetadata is the first event on every stream: citations and the
	// confidence for the full result.
	EventMetadata EventType = "metadata"

	// EventContext carries one retrieved context. Contexts arrive in final
	// score order after the metadata event.
	EventContext EventType = "context"
)

// Event is one element of a retrieval stream.
type Event struct {
	Type EventType `json:"type"`

	// Metadata fields, set on EventMetadata.
	Citations            []store.Citation `json:"citations,omitempty"`
	Confidence           float64          `json:"confidence,omitempty"`
	InsufficientEvidence bool             `json:"insufficient_evidence,omitempty"`

	// Context is set on EventContext.
	Context *Context `json:"context,omitempty"`
}

// Stream runs a retrieval and delivers the result as a sequence of events:
// exactly one metadata event followed by one context event per retrieved
// context. The channel is closed on completion or when ctx is cancelled;
// cancellation does not wait for in-flight pipeline calls.
func (e *Engine) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		res, err := e.Retrieve(ctx, req)
		if err != nil {
			// Only cancellation reaches here; the consumer is gone.
			return
		}

		meta := Event{
			Type:                 EventMetadata,
			Citations:            res.Citations,
			Confidence:           res.Confidence,
			InsufficientEvidence: res.InsufficientEvidence,
		}
		select {
		case out <- meta:
		case <-ctx.Done():
			return
		}

		for i := range res.Contexts {
			select {
			case out <- Event{Type: EventContext, Context: &res.Contexts[i]}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
