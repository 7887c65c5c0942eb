package ports

import (
	"context"

	"github.com/khromalabs/ainara-sub000/internal/domain/models"
)

// MessageRepository is the append-only message log with metadata (C3).
type MessageRepository interface {
	Append(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// List returns messages ordered by timestamp ascending.
	List(ctx context.Context, limit, offset int) ([]*models.Message, error)
	// Latest returns the most recent messages, oldest first.
	Latest(ctx context.Context, limit int) ([]*models.Message, error)
	// Search performs keyword retrieval over message content.
	Search(ctx context.Context, keyword string, limit int) ([]*models.Message, error)
	// After returns messages strictly newer than the given unix
	// millisecond timestamp, oldest first. A limit <= 0 means no limit.
	After(ctx context.Context, unixMillis int64, limit int) ([]*models.Message, error)
	Count(ctx context.Context) (int, error)
}

// MemoryRepository owns the user_memories table. The relational store is the
// source of truth; the vector index is a derived projection of it.
type MemoryRepository interface {
	Create(ctx context.Context, memory *models.Memory) error
	GetByID(ctx context.Context, id string) (*models.Memory, error)
	Update(ctx context.Context, memory *models.Memory) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Memory, error)
	ListByStatus(ctx context.Context, status models.MemoryStatus) ([]*models.Memory, error)
	// TopKeyByRelevance returns the highest-relevance key memories.
	TopKeyByRelevance(ctx context.Context, limit int) ([]*models.Memory, error)
	// RecentCurrent returns current memories ordered by last_updated descending.
	RecentCurrent(ctx context.Context, limit int) ([]*models.Memory, error)
	Count(ctx context.Context) (int, error)
}

// MetadataRepository is the db_metadata key/value side-table.
type MetadataRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Reserved db_metadata keys.
const (
	MetaProfileLastProcessed = "profile_last_processed_timestamp"
	MetaDecayTurnCounter     = "profile_decay_turn_counter"
	MetaVectorDBNeedsReset   = "vector_db_needs_reset"
	MetaMemoryEnabled        = "memory_enabled"
	MetaCurrentSummary       = "current_summary"
)

// VectorMatch is one hit of an approximate-nearest-neighbor search.
type VectorMatch struct {
	ID         string
	Content    string
	Similarity float64
	Metadata   map[string]string
}

// VectorStore indexes normalized text with arbitrary metadata (C4).
type VectorStore interface {
	Add(ctx context.Context, id, text string, metadata map[string]string) error
	Delete(ctx context.Context, ids ...string) error
	Reset(ctx context.Context) error
	Count() int
	// Search returns up to topK matches for the query, most similar first.
	// Matches whose ID is in excludeIDs are skipped; filter narrows by
	// exact metadata equality.
	Search(ctx context.Context, query string, topK int, filter map[string]string, excludeIDs []string) ([]VectorMatch, error)
}
