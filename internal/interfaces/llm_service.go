package interfaces

import (
	"context"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a single message in a prompt conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	Content string
}

// LLMService is a minimal chat completion client.
// Implementations wrap a cloud provider SDK (Claude, Gemini).
type LLMService interface {
	// Chat generates a completion for the conversation. System messages are
	// passed to the provider as its system prompt.
	Chat(ctx context.Context, messages []Message) (string, error)

	// Name returns the provider name, used in logs
	Name() string

	Close() error
}
