package model

import (
	"fmt"
	"strings"
	"time"
)

// NotSpecified is substituted for empty profile context fields when a
// prompt is built.
const NotSpecified = "Not specified"

// UserContext holds the free-text personal details used to personalize
// generated replies. It is persisted as a JSON blob next to the profile.
type UserContext struct {
	Occupation  string `json:"occupation"`
	Interests   string `json:"interests"`
	Hobbies     string `json:"hobbies"`
	Personality string `json:"personality"`
}

// UserProfile is a registered account. Profiles are keyed by normalized
// email and never updated after creation.
type UserProfile struct {
	// Email is the normalized (trimmed, lowercased) address.
	Email string `json:"email"`

	// Name is the display name used to address the user.
	Name string `json:"name"`

	// Context carries the occupation, interests, hobbies and personality.
	Context UserContext `json:"context"`

	// CreatedAt is when the profile was registered.
	CreatedAt time.Time `json:"timestamp"`
}

// Registration is the input for creating a UserProfile.
type Registration struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	Occupation  string `json:"occupation"`
	Interests   string `json:"interests"`
	Hobbies     string `json:"hobbies"`
	Personality string `json:"personality"`
}

// ValidationError reports a missing or empty registration field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// Normalize returns a copy with every field trimmed and the email
// lowercased.
func (r Registration) Normalize() Registration {
	return Registration{
		Email:       NormalizeEmail(r.Email),
		Name:        strings.TrimSpace(r.Name),
		Occupation:  strings.TrimSpace(r.Occupation),
		Interests:   strings.TrimSpace(r.Interests),
		Hobbies:     strings.TrimSpace(r.Hobbies),
		Personality: strings.TrimSpace(r.Personality),
	}
}

// Validate checks that every field is non-empty after trimming. Fields are
// checked in registration-form order so the first missing one is reported.
func (r Registration) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"email", r.Email},
		{"name", r.Name},
		{"occupation", r.Occupation},
		{"interests", r.Interests},
		{"hobbies", r.Hobbies},
		{"personality", r.Personality},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name}
		}
	}
	return nil
}

// Context returns the profile context portion of the registration.
func (r Registration) Context() UserContext {
	return UserContext{
		Occupation:  r.Occupation,
		Interests:   r.Interests,
		Hobbies:     r.Hobbies,
		Personality: r.Personality,
	}
}

// NormalizeEmail trims surrounding whitespace and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
