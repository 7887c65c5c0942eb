package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/khromalabs/ainara-sub000/internal/domain"
)

// MetadataRepository implements ports.MetadataRepository over db_metadata.
type MetadataRepository struct {
	db *DB
}

func NewMetadataRepository(db *DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

func (r *MetadataRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT value FROM db_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %q: %w", key, err)
	}
	return value, nil
}

func (r *MetadataRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO db_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write metadata %q: %w", key, err)
	}
	return nil
}

func (r *MetadataRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.conn.ExecContext(ctx, `DELETE FROM db_metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata %q: %w", key, err)
	}
	return nil
}
