// Package chromem backs the ports.VectorStore interface with embedded
// chromem-go collections persisted next to the context database. One DB
// handle serves every collection of a context.
package chromem

import (
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/khromalabs/ainara-sub000/internal/ports"
)

// Per-context collection names.
const (
	MemoryCollection          = "user_profile_memories"
	ConversationLogCollection = "conversation_log"
)

// DB is the per-context vector database; collections are derived from it.
type DB struct {
	db       *chromem.DB
	embedder ports.EmbeddingService
}

// Open opens (creating if needed) the vector database under dir.
func Open(dir string, embedder ports.EmbeddingService) (*DB, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	return &DB{db: db, embedder: embedder}, nil
}

// Collection opens (creating if needed) a named collection.
func (d *DB) Collection(name string) (*VectorStore, error) {
	s := &VectorStore{db: d.db, name: name, embedder: d.embedder}
	collection, err := d.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}
	s.collection = collection
	return s, nil
}

// VectorStore is a persistent, per-context approximate-nearest-neighbor
// index. Thread safety of reads and writes is delegated to chromem; rebuilds
// (Reset) are serialized here.
type VectorStore struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	embedder   ports.EmbeddingService
}

func (s *VectorStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		result, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return result.Embedding, nil
	}
}

func (s *VectorStore) Add(ctx context.Context, id, text string, metadata map[string]string) error {
	doc := chromem.Document{
		ID:       id,
		Content:  text,
		Metadata: metadata,
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document %s: %w", id, err)
	}
	return nil
}

func (s *VectorStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Reset drops and recreates the collection.
func (s *VectorStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", s.name, err)
	}
	collection, err := s.db.GetOrCreateCollection(s.name, nil, s.embeddingFunc())
	if err != nil {
		return fmt.Errorf("failed to recreate collection %s: %w", s.name, err)
	}
	s.collection = collection
	return nil
}

func (s *VectorStore) Count() int {
	return s.collection.Count()
}

func (s *VectorStore) Search(ctx context.Context, query string, topK int, filter map[string]string, excludeIDs []string) ([]ports.VectorMatch, error) {
	count := s.collection.Count()
	if count == 0 || topK <= 0 {
		return nil, nil
	}

	// Over-fetch so client-side exclusion cannot starve the result set.
	n := topK + len(excludeIDs)
	if n > count {
		n = count
	}

	results, err := s.collection.Query(ctx, query, n, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	matches := make([]ports.VectorMatch, 0, topK)
	for _, r := range results {
		if excluded[r.ID] {
			continue
		}
		matches = append(matches, ports.VectorMatch{
			ID:         r.ID,
			Content:    r.Content,
			Similarity: float64(r.Similarity),
			Metadata:   r.Metadata,
		})
		if len(matches) == topK {
			break
		}
	}
	return matches, nil
}
