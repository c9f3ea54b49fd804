package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for the Qdrant vector backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection name; one collection per notebook.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Chunk is one indexed unit of document text.
type Chunk struct {
	// Ref is the document reference the chunk belongs to.
	Ref string

	// Content is the chunk text.
	Content string

	// Score is the similarity score assigned during search.
	Score float32
}

// QdrantStore persists and searches chunk embeddings in a Qdrant collection.
// The collection is created lazily on first upsert, when the vector
// dimensionality is first known.
type QdrantStore struct {
	client *qdrant.Client
	cfg    *QdrantConfig

	// mu guards ensured.
	mu sync.Mutex
	// ensured records that the collection is known to exist.
	ensured bool
}

// NewQdrantStore connects to Qdrant. The collection is not touched until the
// first Upsert.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// ensureCollection creates the collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
		}
	}
	s.ensured = true
	return nil
}

// Upsert stores chunks with their pre-computed embeddings. The embeddings
// slice must be parallel to chunks.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("qdrant: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, uint64(len(embeddings[0]))); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"ref":     chunk.Ref,
				"content": chunk.Content,
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search performs a cosine similarity search and returns the top-k chunks.
// A collection that has never been written returns no results.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Chunk, error) {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return nil, nil
	}

	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	chunks := make([]Chunk, 0, len(results))
	for _, r := range results {
		chunk := Chunk{Score: r.Score}
		if p := r.Payload; p != nil {
			if v, ok := p["ref"]; ok {
				chunk.Ref = v.GetStringValue()
			}
			if v, ok := p["content"]; ok {
				chunk.Content = v.GetStringValue()
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// DeleteByRef removes every point indexed under the reference.
func (s *QdrantStore) DeleteByRef(ctx context.Context, ref string) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("ref", ref)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete by ref failed: %w", err)
	}
	return nil
}

// DropCollection removes the whole collection. Used when a notebook is deleted.
func (s *QdrantStore) DropCollection(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("qdrant: drop collection %q: %w", s.cfg.Collection, err)
	}
	s.mu.Lock()
	s.ensured = false
	s.mu.Unlock()
	return nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
