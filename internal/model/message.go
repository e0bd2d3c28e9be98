package model

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role int

const (
	RoleUser Role = iota
	RoleBot
)

// storageTags maps each Role to the tag persisted in the messages table.
var storageTags = map[Role]string{
	RoleUser: "user",
	RoleBot:  "bot",
}

// completionTags maps each Role to the tag understood by the completion
// service.
var completionTags = map[Role]string{
	RoleUser: "user",
	RoleBot:  "assistant",
}

// StorageTag returns the persisted tag for r.
func (r Role) StorageTag() string {
	return storageTags[r]
}

// CompletionTag returns the completion-service tag for r.
func (r Role) CompletionTag() string {
	return completionTags[r]
}

func (r Role) String() string {
	if tag, ok := storageTags[r]; ok {
		return tag
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseStorageRole converts a persisted tag back into a Role.
func ParseStorageRole(tag string) (Role, error) {
	for role, t := range storageTags {
		if t == tag {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown role tag %q", tag)
}

// ConversationMessage is a single persisted turn of a user's conversation.
// Messages are append-only.
type ConversationMessage struct {
	ID        int64     `json:"id"`
	UserEmail string    `json:"user_email"`
	Role      Role      `json:"-"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// ContextMessage is a history entry prepared for the completion service.
// Role holds the completion tag ("user" or "assistant").
type ContextMessage struct {
	Role    string
	Content string
}
