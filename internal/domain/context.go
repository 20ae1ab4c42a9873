package domain

import "context"

// Role is the author of a context entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem marks entries the pipeline itself authors (e.g. the
	// session-start record written by /start).
	RoleSystem Role = "system"
)

// ContextEntry is one turn of a user's conversation history.
type ContextEntry struct {
	Role Role
	Text string
}

// ContextStore holds the ordered conversation history per (channel, userID).
// Appends are atomic and strictly chronological; Read never consumes.
// Contexts for different keys are independent; a context exists implicitly
// from its first append. Retention/eviction is a storage-layer concern.
type ContextStore interface {
	Append(ctx context.Context, ch Channel, userID string, role Role, text string) error
	Read(ctx context.Context, ch Channel, userID string) ([]ContextEntry, error)
}
