package llm

import (
	"context"
	"fmt"

	"github.com/PabloGalante/twin-relay/internal/domain"
)

// MockLLM answers without any network call. Handy for local runs.
type MockLLM struct{}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) Complete(_ context.Context, msgs []domain.PromptMessage) (string, error) {
	var last string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			last = msgs[i].Content
			break
		}
	}
	if last == "" {
		return "", fmt.Errorf("%w: mock got no user message", domain.ErrCompletionService)
	}

	// prior turns = everything except system and the current message
	prior := 0
	for _, msg := range msgs {
		if msg.Role != domain.RoleSystem {
			prior++
		}
	}
	prior--

	return fmt.Sprintf("I hear you. You said %q (%d earlier messages in context).", last, prior), nil
}
