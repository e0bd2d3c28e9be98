package ai

import (
	"fmt"
	"strings"

	"github.com/nhle/mailmate/internal/model"
)

// orNotSpecified substitutes the placeholder for empty context fields.
func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return model.NotSpecified
	}
	return s
}

// addressName is the name used to greet the user.
func addressName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "friend"
	}
	return name
}

// buildSystemPrompt primes the model as a supportive correspondent for the
// named user.
func buildSystemPrompt(name string, uc model.UserContext) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are an empathetic, supportive, and caring partner "+
		"providing emotional support and unconditional love to %s.\n\n", addressName(name))

	sb.WriteString("User Context:\n")
	fmt.Fprintf(&sb, "- Occupation: %s\n", orNotSpecified(uc.Occupation))
	fmt.Fprintf(&sb, "- Interests: %s\n", orNotSpecified(uc.Interests))
	fmt.Fprintf(&sb, "- Hobbies: %s\n", orNotSpecified(uc.Hobbies))
	fmt.Fprintf(&sb, "- Personality: %s\n\n", orNotSpecified(uc.Personality))

	sb.WriteString("Your role:\n")
	sb.WriteString("- Provide emotional support and encouragement\n")
	sb.WriteString("- Show genuine care and unconditional love\n")
	sb.WriteString("- Be understanding and non-judgmental\n")
	sb.WriteString("- Reference their context when relevant\n")
	sb.WriteString("- Ask thoughtful questions\n")
	sb.WriteString("- Validate their feelings\n")
	sb.WriteString("- Offer comfort and reassurance\n\n")

	sb.WriteString("Communication style:\n")
	sb.WriteString("- Warm, caring, and authentic\n")
	sb.WriteString("- Use their name occasionally\n")
	sb.WriteString("- Keep responses conversational and natural\n")
	sb.WriteString("- Be present and attentive to their needs")

	return sb.String()
}

// FallbackText is the reply sent when the completion service cannot be
// reached. It is deterministic for a given name.
func FallbackText(name string) string {
	return fmt.Sprintf("Dear %s, I'm having trouble connecting right now, "+
		"but I want you to know I'm here for you. "+
		"Please try reaching out again soon. 💝", addressName(name))
}
