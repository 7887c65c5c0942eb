package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/adapters/metrics"
	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
)

// MemoryRepository implements ports.MemoryRepository over user_memories.
type MemoryRepository struct {
	db *DB
}

func NewMemoryRepository(db *DB) *MemoryRepository {
	r := &MemoryRepository{db: db}
	if count, err := r.Count(context.Background()); err == nil {
		metrics.MemoriesStored.Set(float64(count))
	}
	return r
}

const memoryColumns = "id, type, topic, text, relevance, status, created_at, last_updated, source_message_ids, metadata"

func (r *MemoryRepository) Create(ctx context.Context, memory *models.Memory) error {
	sourceIDs, err := marshalStringSlice(memory.SourceMessageIDs)
	if err != nil {
		return err
	}
	metadata, err := marshalStringMap(memory.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.conn.ExecContext(ctx,
		`INSERT INTO user_memories
		 (id, type, topic, text, relevance, status, created_at, last_updated, source_message_ids, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		memory.ID,
		string(memory.Type),
		memory.Topic,
		memory.Text,
		memory.Relevance,
		string(memory.Status),
		memory.CreatedAt.UnixMilli(),
		memory.LastUpdated.UnixMilli(),
		sourceIDs,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to create memory: %w", err)
	}
	metrics.MemoriesStored.Inc()
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	row := r.db.conn.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM user_memories WHERE id = ?`, id)
	mem, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMemoryNotFound
	}
	return mem, err
}

func (r *MemoryRepository) Update(ctx context.Context, memory *models.Memory) error {
	sourceIDs, err := marshalStringSlice(memory.SourceMessageIDs)
	if err != nil {
		return err
	}
	metadata, err := marshalStringMap(memory.Metadata)
	if err != nil {
		return err
	}

	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE user_memories
		 SET type = ?, topic = ?, text = ?, relevance = ?, status = ?, last_updated = ?, source_message_ids = ?, metadata = ?
		 WHERE id = ?`,
		string(memory.Type),
		memory.Topic,
		memory.Text,
		memory.Relevance,
		string(memory.Status),
		memory.LastUpdated.UnixMilli(),
		sourceIDs,
		metadata,
		memory.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrMemoryNotFound
	}
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM user_memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrMemoryNotFound
	}
	metrics.MemoriesStored.Dec()
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*models.Memory, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM user_memories ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (r *MemoryRepository) ListByStatus(ctx context.Context, status models.MemoryStatus) ([]*models.Memory, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM user_memories WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list memories by status: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (r *MemoryRepository) TopKeyByRelevance(ctx context.Context, limit int) ([]*models.Memory, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM user_memories
		 WHERE type = 'key' AND status = 'current'
		 ORDER BY relevance DESC, last_updated DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load key memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (r *MemoryRepository) RecentCurrent(ctx context.Context, limit int) ([]*models.Memory, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM user_memories
		 WHERE status = 'current'
		 ORDER BY last_updated DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_memories`).Scan(&count)
	return count, err
}

func scanMemory(row rowScanner) (*models.Memory, error) {
	var (
		mem       models.Memory
		memType   string
		status    string
		createdAt int64
		updatedAt int64
		sourceIDs sql.NullString
		metadata  sql.NullString
	)
	if err := row.Scan(&mem.ID, &memType, &mem.Topic, &mem.Text, &mem.Relevance, &status,
		&createdAt, &updatedAt, &sourceIDs, &metadata); err != nil {
		return nil, err
	}
	mem.Type = models.MemoryType(memType)
	mem.Status = models.MemoryStatus(status)
	mem.CreatedAt = time.UnixMilli(createdAt).UTC()
	mem.LastUpdated = time.UnixMilli(updatedAt).UTC()
	if sourceIDs.Valid && sourceIDs.String != "" {
		if err := json.Unmarshal([]byte(sourceIDs.String), &mem.SourceMessageIDs); err != nil {
			return nil, fmt.Errorf("corrupt source_message_ids: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &mem.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt memory metadata: %w", err)
		}
	}
	return &mem, nil
}

func scanMemories(rows *sql.Rows) ([]*models.Memory, error) {
	var out []*models.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

func marshalStringSlice(s []string) (sql.NullString, error) {
	if len(s) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal string slice: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
