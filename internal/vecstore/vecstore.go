// Package vecstore defines the vector index used for semantic search.
// Each tenant gets its own namespace so searches can never cross tenant
// boundaries. Concrete implementations (Qdrant) satisfy the Index interface
// so the retrieval layer never depends on a specific backend.
package vecstore

import (
	"context"
)

// Point is a unit of indexed content: one chunk embedding plus the payload
// needed to reconstruct a search result without a relational round trip.
type Point struct {
	// ID is the point UUID (the chunk's vector_id).
	ID string

	// Vector is the pre-computed embedding.
	Vector []float32

	// Text is the chunk text that was embedded (without enrichment framing).
	Text string

	// SourceID is the owning source, used for delete-by-source and
	// permission filtering.
	SourceID string

	// ChunkID is the relational chunk id, used for citation resolution.
	ChunkID string

	// Verified marks points injected from owner-curated answers.
	Verified bool

	// Category is FACT or OPINION, empty for verified points.
	Category string

	// Tone is the enrichment tone descriptor.
	Tone string
}

// Hit is a search result with its similarity score.
type Hit struct {
	Point

	// Score is the cosine similarity assigned by the index.
	Score float32
}

// Query is one similarity search against a tenant namespace.
type Query struct {
	// Vector is the query embedding.
	Vector []float32

	// TopK is the maximum number of hits to return.
	TopK int

	// VerifiedOnly restricts the search to injected verified points.
	VerifiedOnly bool

	// ExcludeVerified drops injected verified points from the results.
	// Ignored when VerifiedOnly is set.
	ExcludeVerified bool

	// MinScore drops hits below the threshold. Zero means no threshold.
	MinScore float32
}

// Index is the interface for persisting and searching chunk embeddings.
// Implementations must be safe to call from multiple goroutines.
type Index interface {
	// EnsureNamespace creates the tenant's namespace if it does not exist.
	EnsureNamespace(ctx context.Context, tenant string) error

	// Upsert stores or updates a batch of points in the tenant's namespace.
	Upsert(ctx context.Context, tenant string, points []Point) error

	// Search runs a similarity query against the tenant's namespace.
	Search(ctx context.Context, tenant string, q Query) ([]Hit, error)

	// DeleteBySource removes every point belonging to a source.
	DeleteBySource(ctx context.Context, tenant, sourceID string) error

	// DeletePoints removes points by their ids.
	DeletePoints(ctx context.Context, tenant string, ids []string) error

	// DropNamespace removes the tenant's namespace and everything in it.
	DropNamespace(ctx context.Context, tenant string) error

	// Close releases any resources held by the index.
	Close() error
}
