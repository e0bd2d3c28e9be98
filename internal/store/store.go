package store

import (
	"context"
	"errors"

	"github.com/nhle/mailmate/internal/model"
)

// DefaultHistoryLimit is used when GetHistory is called without a limit.
const DefaultHistoryLimit = 50

var (
	// ErrNotFound is returned when a requested profile does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when registering an email that already
	// has a profile.
	ErrAlreadyExists = errors.New("already exists")
)

// Store defines the persistence interface for user profiles, their
// conversation logs and the record of handled inbound mail.
type Store interface {
	// === Profiles ===

	CreateUser(ctx context.Context, reg model.Registration) error
	GetUser(ctx context.Context, email string) (*model.UserProfile, error)
	UserExists(ctx context.Context, email string) (bool, error)
	ListUserEmails(ctx context.Context) ([]string, error)

	// === Messages ===

	AppendMessage(ctx context.Context, email string, role model.Role, content string) error
	GetHistory(ctx context.Context, email string, limit int) ([]model.ConversationMessage, error)
	GetRecentForContext(ctx context.Context, email string, limit int) ([]model.ContextMessage, error)

	// === Processed mail ===

	MarkProcessed(ctx context.Context, key, email string) (bool, error)
	IsProcessed(ctx context.Context, key string) (bool, error)

	Ping(ctx context.Context) error
}
