package vecstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string `yaml:"host"`

	// Port is the Qdrant gRPC port (default: 6334).
	Port int `yaml:"port"`

	// CollectionPrefix is prepended to the tenant id to form the collection
	// name (default: twind_).
	CollectionPrefix string `yaml:"collection_prefix"`

	// VectorSize is the dimensionality of the embeddings stored per tenant.
	VectorSize uint64 `yaml:"vector_size"`

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string `yaml:"api_key"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `yaml:"tls"`
}

// QdrantIndex implements Index backed by a Qdrant instance, one collection
// per tenant.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig

	// mu guards known, the set of collections already verified to exist.
	mu    sync.Mutex
	known map[string]bool
}

// NewQdrantIndex creates a new QdrantIndex. Tenant collections are created
// lazily on first use.
func NewQdrantIndex(cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "twind_"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vecstore: failed to create qdrant client: %w", err)
	}

	return &QdrantIndex{client: client, cfg: cfg, known: make(map[string]bool)}, nil
}

// collection returns the Qdrant collection name for a tenant.
func (s *QdrantIndex) collection(tenant string) string {
	return s.cfg.CollectionPrefix + tenant
}

// EnsureNamespace creates the tenant's collection if it does not already exist.
func (s *QdrantIndex) EnsureNamespace(ctx context.Context, tenant string) error {
	name := s.collection(tenant)

	s.mu.Lock()
	seen := s.known[name]
	s.mu.Unlock()
	if seen {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("vecstore: failed to check collection existence: %w", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("vecstore: failed to create collection %q: %w", name, err)
		}
	}

	s.mu.Lock()
	s.known[name] = true
	s.mu.Unlock()
	return nil
}

// Upsert stores or updates a batch of points in the tenant's collection.
// Each point must have its embedding pre-computed.
func (s *QdrantIndex) Upsert(ctx context.Context, tenant string, points []Point) error {
	if err := s.EnsureNamespace(ctx, tenant); err != nil {
		return err
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := map[string]interface{}{
			"text":        p.Text,
			"source_id":   p.SourceID,
			"chunk_id":    p.ChunkID,
			"is_verified": p.Verified,
		}
		if p.Category != "" {
			payload["category"] = p.Category
		}
		if p.Tone != "" {
			payload["tone"] = p.Tone
		}

		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection(tenant),
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("vecstore: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search against the tenant's collection.
func (s *QdrantIndex) Search(ctx context.Context, tenant string, q Query) ([]Hit, error) {
	limit := uint64(q.TopK)
	req := &qdrant.QueryPoints{
		CollectionName: s.collection(tenant),
		Query:          qdrant.NewQuery(q.Vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if q.VerifiedOnly {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchBool("is_verified", true),
			},
		}
	} else if q.ExcludeVerified {
		req.Filter = &qdrant.Filter{
			MustNot: []*qdrant.Condition{
				qdrant.NewMatchBool("is_verified", true),
			},
		}
	}
	if q.MinScore > 0 {
		threshold := q.MinScore
		req.ScoreThreshold = &threshold
	}

	results, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vecstore: search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hit := Hit{Score: r.Score}
		hit.ID = r.Id.GetUuid()
		if p := r.Payload; p != nil {
			if v, ok := p["text"]; ok {
				hit.Text = v.GetStringValue()
			}
			if v, ok := p["source_id"]; ok {
				hit.SourceID = v.GetStringValue()
			}
			if v, ok := p["chunk_id"]; ok {
				hit.ChunkID = v.GetStringValue()
			}
			if v, ok := p["is_verified"]; ok {
				hit.Verified = v.GetBoolValue()
			}
			if v, ok := p["category"]; ok {
				hit.Category = v.GetStringValue()
			}
			if v, ok := p["tone"]; ok {
				hit.Tone = v.GetStringValue()
			}
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// DeleteBySource removes every point whose payload carries the source id.
// Used for delete-before-insert during reprocessing and for source removal.
func (s *QdrantIndex) DeleteBySource(ctx context.Context, tenant, sourceID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection(tenant),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("source_id", sourceID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("vecstore: delete by source failed: %w", err)
	}

	return nil
}

// DeletePoints removes points from the tenant's collection by their ids.
func (s *QdrantIndex) DeletePoints(ctx context.Context, tenant string, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection(tenant),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("vecstore: delete points failed: %w", err)
	}

	return nil
}

// DropNamespace deletes the tenant's collection outright.
func (s *QdrantIndex) DropNamespace(ctx context.Context, tenant string) error {
	name := s.collection(tenant)
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("vecstore: drop collection %q: %w", name, err)
	}

	s.mu.Lock()
	delete(s.known, name)
	s.mu.Unlock()
	return nil
}

// Ping calls the Qdrant HealthCheck RPC. Used by readiness probes.
func (s *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vecstore: health check: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}
