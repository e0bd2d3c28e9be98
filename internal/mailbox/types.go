package mailbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/mailmate/internal/model"
)

// AuthError indicates that the mail server rejected the bot credentials.
type AuthError struct {
	Server  string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Server, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// AllowList is the set of normalized sender addresses eligible for
// automatic processing.
type AllowList map[string]struct{}

// NewAllowList builds an AllowList, normalizing each address.
func NewAllowList(emails ...string) AllowList {
	allowed := make(AllowList, len(emails))
	for _, e := range emails {
		if n := model.NormalizeEmail(e); n != "" {
			allowed[n] = struct{}{}
		}
	}
	return allowed
}

// Contains reports whether the normalized form of email is allowed.
func (a AllowList) Contains(email string) bool {
	_, ok := a[model.NormalizeEmail(email)]
	return ok
}

// OutgoingMessage is a plain-text reply sent from the bot address.
type OutgoingMessage struct {
	To      string
	Subject string
	Body    string

	// InReplyTo is the Message-ID of the message being answered, without
	// angle brackets. Optional.
	InReplyTo string
}

// SMTPConfig holds the SMTP server settings for sending replies.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string

	// Security is one of "tls", "starttls" or "none".
	Security string
}

// ExtractAddress returns the bare, normalized address from a From header
// value. "Name <addr>" yields addr; anything without both angle brackets is
// treated as a bare address.
func ExtractAddress(header string) string {
	start := strings.Index(header, "<")
	end := strings.LastIndex(header, ">")
	if start >= 0 && end > start {
		return model.NormalizeEmail(header[start+1 : end])
	}
	return model.NormalizeEmail(header)
}
