package domain

import "context"

// CompletionClient defines how the core application talks to a remote model.
type CompletionClient interface {
	Complete(ctx context.Context, msgs []PromptMessage) (string, error)
}

// PromptProvider produces the system-role content for every turn.
type PromptProvider interface {
	Prompt() string
}

// PromptFunc adapts a plain function to PromptProvider.
type PromptFunc func() string

func (f PromptFunc) Prompt() string { return f() }

// StoreCapabilities describes what a backend guarantees.
type StoreCapabilities struct {
	Name string
	// ReadAfterWrite is true when a Load right after a successful Save on the
	// same key is guaranteed to observe that Save.
	ReadAfterWrite bool
	// Durable is false for process-local stores that lose data on restart.
	Durable bool
}

// ConversationStore persists one ordered message list per session key.
//
// Load returns an empty slice, not an error, when the key has no record.
// Save replaces the whole record. Implementations wrap failures with
// ErrStorageUnavailable or ErrStorageCorrupt and never retry on their own.
type ConversationStore interface {
	Load(ctx context.Context, key SessionKey) ([]Message, error)
	Save(ctx context.Context, key SessionKey, msgs []Message) error
	Capabilities() StoreCapabilities
	Close() error
}
