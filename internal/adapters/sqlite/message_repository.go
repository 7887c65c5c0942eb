package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
)

// MessageRepository implements ports.MessageRepository over the messages table.
type MessageRepository struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = "id, role, content, tokens, timestamp, metadata"

func (r *MessageRepository) Append(ctx context.Context, message *models.Message) error {
	metadata, err := marshalStringMap(message.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, role, content, tokens, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID,
		string(message.Role),
		message.Content,
		message.Tokens,
		message.Timestamp.UnixMilli(),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	row := r.db.conn.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return msg, err
}

func (r *MessageRepository) List(ctx context.Context, limit, offset int) ([]*models.Message, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *MessageRepository) Latest(ctx context.Context, limit int) ([]*models.Message, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp ASC, id ASC`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *MessageRepository) Search(ctx context.Context, keyword string, limit int) ([]*models.Message, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE content LIKE '%' || ? || '%'
		 ORDER BY timestamp ASC, id ASC LIMIT ?`,
		keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *MessageRepository) After(ctx context.Context, unixMillis int64, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		// SQLite reads LIMIT -1 as unbounded; LIMIT 0 would return nothing.
		limit = -1
	}
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE timestamp > ? ORDER BY timestamp ASC, id ASC LIMIT ?`,
		unixMillis, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages after %d: %w", unixMillis, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *MessageRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg      models.Message
		role     string
		ts       int64
		metadata sql.NullString
	)
	if err := row.Scan(&msg.ID, &role, &msg.Content, &msg.Tokens, &ts, &metadata); err != nil {
		return nil, err
	}
	msg.Role = models.MessageRole(role)
	msg.Timestamp = time.UnixMilli(ts).UTC()
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt message metadata: %w", err)
		}
	}
	return &msg, nil
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func marshalStringMap(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
