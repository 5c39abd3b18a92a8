package domain

import (
	"fmt"
	"unicode/utf8"
)

// Message is one persisted entry of a conversation. Order in the enclosing
// slice is the insertion order and is never rewritten.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Validate reports ErrInvalidMessage for anything that would not survive a
// JSON round trip unchanged or that a stored record may not contain.
func (m Message) Validate() error {
	switch {
	case !m.Role.Valid():
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	case !utf8.ValidString(m.Content):
		return fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidMessage)
	case !utf8.ValidString(m.Timestamp):
		return fmt.Errorf("%w: timestamp is not valid UTF-8", ErrInvalidMessage)
	}
	if _, err := ParseTimestamp(m.Timestamp); err != nil {
		return fmt.Errorf("%w: timestamp %q is not ISO-8601", ErrInvalidMessage, m.Timestamp)
	}
	return nil
}

// ValidateMessages runs Validate on every message. Backends call it before
// writing so all of them accept and reject the same conversations.
func ValidateMessages(msgs []Message) error {
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// PromptMessage is what goes out to the completion service: a Message without
// its timestamp.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToPrompt strips storage-only fields.
func (m Message) ToPrompt() PromptMessage {
	return PromptMessage{Role: m.Role, Content: m.Content}
}

// CloneMessages returns a copy that never aliases msgs. A nil input gives an
// empty, non-nil slice so "no history" and "empty history" look the same.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
