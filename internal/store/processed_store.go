package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/mailmate/internal/model"
)

// MarkProcessed records that the inbound message identified by key has
// been handled. It returns false if the key was already recorded.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, key, email string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_emails (message_key, user_email, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(message_key) DO NOTHING`,
		key, model.NormalizeEmail(email), time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("marking %s processed: %w", key, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking %s processed: %w", key, err)
	}
	return rows > 0, nil
}

// IsProcessed reports whether key has already been handled.
func (s *SQLiteStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM processed_emails WHERE message_key = ?", key,
	)
	if err != nil {
		return false, fmt.Errorf("checking %s processed: %w", key, err)
	}
	return count > 0, nil
}
