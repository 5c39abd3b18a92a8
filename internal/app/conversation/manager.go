package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/PabloGalante/twin-relay/internal/domain"
	"github.com/PabloGalante/twin-relay/internal/observability"
)

// DefaultContextWindow is how many trailing history messages go into a prompt.
const DefaultContextWindow = 10

// Options tunes a Manager. The zero value gives the default window, no
// per-session serialization and the wall clock.
type Options struct {
	ContextWindow     int
	SerializeSessions bool
	AllowStaleReads   bool
	Now               func() time.Time
}

// Manager owns the conversation memory of every session: it builds the
// prompt for a turn and persists the turn once the model has answered.
type Manager struct {
	store  domain.ConversationStore
	llm    domain.CompletionClient
	prompt domain.PromptProvider
	window int
	now    func() time.Time

	locks *keyedMutex
}

func NewManager(
	store domain.ConversationStore,
	llm domain.CompletionClient,
	prompt domain.PromptProvider,
	opts Options,
) (*Manager, error) {
	if store == nil {
		return nil, errors.New("conversation: nil store")
	}
	if llm == nil {
		return nil, errors.New("conversation: nil completion client")
	}
	if prompt == nil {
		return nil, errors.New("conversation: nil prompt provider")
	}

	caps := store.Capabilities()
	if !caps.ReadAfterWrite {
		if !opts.AllowStaleReads {
			return nil, fmt.Errorf("conversation: backend %q does not guarantee read-after-write", caps.Name)
		}
		log := observability.Logger()
		log.Warn().Str("backend", caps.Name).Msg("backend may serve stale reads, turns can be lost")
	}

	m := &Manager{
		store:  store,
		llm:    llm,
		prompt: prompt,
		window: opts.ContextWindow,
		now:    opts.Now,
	}
	if m.window <= 0 {
		m.window = DefaultContextWindow
	}
	if m.now == nil {
		m.now = time.Now
	}
	if opts.SerializeSessions {
		m.locks = newKeyedMutex()
	}
	return m, nil
}

// PrepareContext loads the session history and returns the prompt for the
// next turn: the system prompt, the last window messages and the user message.
// The loaded history is returned too so CommitTurn does not read it again.
func (m *Manager) PrepareContext(
	ctx context.Context,
	key domain.SessionKey,
	systemPrompt string,
	userMessage string,
) ([]domain.PromptMessage, []domain.Message, error) {
	if err := domain.ValidateSessionKey(key); err != nil {
		return nil, nil, err
	}

	history, err := m.store.Load(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	recent := history
	if len(recent) > m.window {
		recent = recent[len(recent)-m.window:]
	}

	prompt := make([]domain.PromptMessage, 0, len(recent)+2)
	prompt = append(prompt, domain.PromptMessage{Role: domain.RoleSystem, Content: systemPrompt})
	for _, msg := range recent {
		prompt = append(prompt, msg.ToPrompt())
	}
	prompt = append(prompt, domain.PromptMessage{Role: domain.RoleUser, Content: userMessage})

	return prompt, history, nil
}

// CommitTurn appends the user and assistant messages to history and saves the
// result as the new record. history itself is left untouched.
func (m *Manager) CommitTurn(
	ctx context.Context,
	key domain.SessionKey,
	history []domain.Message,
	userMessage string,
	assistantMessage string,
) ([]domain.Message, error) {
	if err := domain.ValidateSessionKey(key); err != nil {
		return nil, err
	}

	userAt := m.now()
	assistantAt := m.now()
	if assistantAt.Before(userAt) {
		assistantAt = userAt
	}

	turn := []domain.Message{
		{Role: domain.RoleUser, Content: userMessage, Timestamp: domain.FormatTimestamp(userAt)},
		{Role: domain.RoleAssistant, Content: assistantMessage, Timestamp: domain.FormatTimestamp(assistantAt)},
	}
	if err := domain.ValidateMessages(turn); err != nil {
		return nil, err
	}

	updated := make([]domain.Message, 0, len(history)+len(turn))
	updated = append(updated, history...)
	updated = append(updated, turn...)

	if err := m.store.Save(ctx, key, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// GetHistory returns the full stored conversation for key.
func (m *Manager) GetHistory(ctx context.Context, key domain.SessionKey) ([]domain.Message, error) {
	if err := domain.ValidateSessionKey(key); err != nil {
		return nil, err
	}
	return m.store.Load(ctx, key)
}

type ChatInput struct {
	// SessionKey may be empty, in which case a new key is generated.
	SessionKey domain.SessionKey
	Message    string
}

type ChatOutput struct {
	SessionKey domain.SessionKey
	Response   string
	History    []domain.Message
}

// Chat runs one full turn. Nothing is written unless the model answered.
func (m *Manager) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, domain.ErrEmptyMessage
	}
	if !utf8.ValidString(in.Message) {
		return nil, fmt.Errorf("%w: message is not valid UTF-8", domain.ErrInvalidMessage)
	}

	key := in.SessionKey
	if key == "" {
		key = domain.SessionKey(uuid.NewString())
	}
	if err := domain.ValidateSessionKey(key); err != nil {
		return nil, err
	}

	log := observability.LoggerFromContext(ctx).With().Str("session_key", string(key)).Logger()

	if m.locks != nil {
		unlock, err := m.locks.Lock(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("gave up waiting for session lock")
			return nil, err
		}
		defer unlock()
	}

	prompt, history, err := m.PrepareContext(ctx, key, m.prompt.Prompt(), in.Message)
	if err != nil {
		log.Error().Err(err).Msg("failed to load history")
		return nil, err
	}
	log.Debug().Int("history_len", len(history)).Int("prompt_len", len(prompt)).Msg("context prepared")

	// a client that goes away from here on must not leave a half-finished turn
	turnCtx := context.WithoutCancel(ctx)

	reply, err := m.llm.Complete(turnCtx, prompt)
	if err == nil && !utf8.ValidString(reply) {
		err = fmt.Errorf("%w: reply is not valid UTF-8", domain.ErrCompletionService)
	}
	if err != nil {
		log.Error().Err(err).Msg("completion failed")
		return nil, err
	}

	saved, err := m.CommitTurn(turnCtx, key, history, in.Message, reply)
	if err != nil {
		log.Error().Err(err).Msg("failed to save turn")
		return nil, err
	}

	log.Info().Int("messages", len(saved)).Msg("turn committed")

	return &ChatOutput{
		SessionKey: key,
		Response:   reply,
		History:    saved,
	}, nil
}
