package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/mailmate/internal/model"
)

// AppendMessage records one conversation turn for email. It does not check
// that the profile exists.
func (s *SQLiteStore) AppendMessage(
	ctx context.Context,
	email string,
	role model.Role,
	content string,
) error {
	tag := role.StorageTag()
	if tag == "" {
		return fmt.Errorf("appending message for %s: invalid role %v", email, role)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (user_email, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		model.NormalizeEmail(email), tag, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending %s message for %s: %w", tag, email, err)
	}

	return nil
}

// GetHistory returns up to limit messages for email, oldest first. Rows
// sharing a timestamp keep their insertion order.
func (s *SQLiteStore) GetHistory(
	ctx context.Context,
	email string,
	limit int,
) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, user_email, role, content, created_at
		FROM messages
		WHERE user_email = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		model.NormalizeEmail(email), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", email, err)
	}
	defer rows.Close()

	var messages []model.ConversationMessage
	for rows.Next() {
		var (
			msg model.ConversationMessage
			tag string
		)
		if err := rows.Scan(&msg.ID, &msg.UserEmail, &tag, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.Role, err = model.ParseStorageRole(tag)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", msg.ID, err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// GetRecentForContext returns the last limit messages for email in
// chronological order, with roles expressed as completion tags.
func (s *SQLiteStore) GetRecentForContext(
	ctx context.Context,
	email string,
	limit int,
) ([]model.ContextMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT role, content
		FROM messages
		WHERE user_email = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		model.NormalizeEmail(email), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages for %s: %w", email, err)
	}
	defer rows.Close()

	var newestFirst []model.ContextMessage
	for rows.Next() {
		var tag, content string
		if err := rows.Scan(&tag, &content); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		role, err := model.ParseStorageRole(tag)
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, model.ContextMessage{
			Role:    role.CompletionTag(),
			Content: content,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading recent messages for %s: %w", email, err)
	}

	messages := make([]model.ContextMessage, len(newestFirst))
	for i, msg := range newestFirst {
		messages[len(newestFirst)-1-i] = msg
	}

	return messages, nil
}
