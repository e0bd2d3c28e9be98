package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mailmate/internal/model"
)

// CreateUser inserts a new profile. Fields are trimmed and the email is
// normalized before insertion; a second registration for the same
// normalized email returns ErrAlreadyExists and leaves the first intact.
func (s *SQLiteStore) CreateUser(ctx context.Context, reg model.Registration) error {
	reg = reg.Normalize()

	contextJSON, err := json.Marshal(reg.Context())
	if err != nil {
		return fmt.Errorf("marshaling user context: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, name, context, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO NOTHING`,
		reg.Email, reg.Name, string(contextJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating user %s: %w", reg.Email, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("creating user %s: %w", reg.Email, err)
	}
	if rows == 0 {
		return fmt.Errorf("creating user %s: %w", reg.Email, ErrAlreadyExists)
	}

	return nil
}

// GetUser retrieves a profile by email.
func (s *SQLiteStore) GetUser(
	ctx context.Context,
	email string,
) (*model.UserProfile, error) {
	email = model.NormalizeEmail(email)

	var (
		user        model.UserProfile
		contextJSON string
	)

	err := s.db.QueryRowxContext(ctx,
		"SELECT email, name, context, created_at FROM users WHERE email = ?", email,
	).Scan(&user.Email, &user.Name, &contextJSON, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", email, err)
	}

	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &user.Context); err != nil {
			return nil, fmt.Errorf("unmarshaling context for %s: %w", email, err)
		}
	}

	return &user, nil
}

// UserExists reports whether a profile is registered for email.
func (s *SQLiteStore) UserExists(ctx context.Context, email string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM users WHERE email = ?", model.NormalizeEmail(email),
	)
	if err != nil {
		return false, fmt.Errorf("checking user %s: %w", email, err)
	}
	return count > 0, nil
}

// ListUserEmails returns every registered (normalized) email.
func (s *SQLiteStore) ListUserEmails(ctx context.Context) ([]string, error) {
	var emails []string
	if err := s.db.SelectContext(ctx, &emails, "SELECT email FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("listing user emails: %w", err)
	}
	return emails, nil
}
