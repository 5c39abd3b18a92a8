package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/twin-relay/internal/adapters/storage/memory"
	"github.com/PabloGalante/twin-relay/internal/adapters/storage/storagetest"
	"github.com/PabloGalante/twin-relay/internal/app/conversation"
	"github.com/PabloGalante/twin-relay/internal/domain"
)

// scriptedLLM answers with a fixed reply and records every prompt it sees.
type scriptedLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts [][]domain.PromptMessage
	hook    func(ctx context.Context)
}

func (s *scriptedLLM) Complete(ctx context.Context, msgs []domain.PromptMessage) (string, error) {
	if s.hook != nil {
		s.hook(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, msgs)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// stepClock advances one millisecond per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newManager(t *testing.T, store domain.ConversationStore, llm domain.CompletionClient, opts conversation.Options) *conversation.Manager {
	t.Helper()
	if opts.Now == nil {
		opts.Now = stepClock()
	}
	m, err := conversation.NewManager(store, llm, domain.PromptFunc(func() string { return "SYS" }), opts)
	require.NoError(t, err)
	return m
}

func TestFirstTurnScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	llm := &scriptedLLM{reply: "hi there"}
	m := newManager(t, store, llm, conversation.Options{})

	out, err := m.Chat(ctx, conversation.ChatInput{SessionKey: "abc", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionKey("abc"), out.SessionKey)
	assert.Equal(t, "hi there", out.Response)

	require.Len(t, llm.prompts, 1)
	assert.Equal(t, []domain.PromptMessage{
		{Role: domain.RoleSystem, Content: "SYS"},
		{Role: domain.RoleUser, Content: "hello"},
	}, llm.prompts[0])

	history, err := m.GetHistory(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, domain.RoleAssistant, history[1].Role)
	assert.Equal(t, "hi there", history[1].Content)
	assert.Equal(t, history, out.History)
}

func TestChatGeneratesSessionKey(t *testing.T) {
	m := newManager(t, memory.NewStore(), &scriptedLLM{reply: "ok"}, conversation.Options{})

	a, err := m.Chat(context.Background(), conversation.ChatInput{Message: "hi"})
	require.NoError(t, err)
	b, err := m.Chat(context.Background(), conversation.ChatInput{Message: "hi"})
	require.NoError(t, err)

	assert.NotEmpty(t, a.SessionKey)
	assert.NotEqual(t, a.SessionKey, b.SessionKey)
	assert.NoError(t, domain.ValidateSessionKey(a.SessionKey))
}

func TestChatRejectsBadInput(t *testing.T) {
	llm := &scriptedLLM{reply: "ok"}
	m := newManager(t, memory.NewStore(), llm, conversation.Options{})

	_, err := m.Chat(context.Background(), conversation.ChatInput{SessionKey: "abc", Message: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	_, err = m.Chat(context.Background(), conversation.ChatInput{SessionKey: "../etc", Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrInvalidSessionKey)

	assert.Zero(t, llm.calls())
}

func TestPrepareContextWindow(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		stored     int
		wantWindow int
	}{
		{"empty", 0, 0},
		{"below window", 4, 4},
		{"exactly window", 10, 10},
		{"above window", 25, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			stored := storagetest.Conversation(tt.stored)
			require.NoError(t, store.Save(ctx, "abc", stored))

			m := newManager(t, store, &scriptedLLM{}, conversation.Options{})
			prompt, history, err := m.PrepareContext(ctx, "abc", "SYS", "next")
			require.NoError(t, err)

			assert.Equal(t, stored, history)
			require.Len(t, prompt, tt.wantWindow+2)
			assert.Equal(t, domain.PromptMessage{Role: domain.RoleSystem, Content: "SYS"}, prompt[0])
			assert.Equal(t, domain.PromptMessage{Role: domain.RoleUser, Content: "next"}, prompt[len(prompt)-1])

			tail := stored[len(stored)-tt.wantWindow:]
			for i, msg := range tail {
				assert.Equal(t, msg.ToPrompt(), prompt[i+1])
			}
		})
	}
}

func TestPrepareContextCustomWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Save(ctx, "abc", storagetest.Conversation(8)))

	m := newManager(t, store, &scriptedLLM{}, conversation.Options{ContextWindow: 3})
	prompt, _, err := m.PrepareContext(ctx, "abc", "SYS", "next")
	require.NoError(t, err)

	require.Len(t, prompt, 5)
	assert.Equal(t, "message 5", prompt[1].Content)
	assert.Equal(t, "message 7", prompt[3].Content)
}

func TestCommitTurnAppendsTwoOrderedMessages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	m := newManager(t, store, &scriptedLLM{}, conversation.Options{})

	history := storagetest.Conversation(3)
	original := domain.CloneMessages(history)

	saved, err := m.CommitTurn(ctx, "abc", history, "question", "answer")
	require.NoError(t, err)

	require.Len(t, saved, 5)
	assert.Equal(t, original, saved[:3])
	assert.Equal(t, original, history, "caller slice must not change")

	user, assistant := saved[3], saved[4]
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.Equal(t, "question", user.Content)
	assert.Equal(t, domain.RoleAssistant, assistant.Role)
	assert.Equal(t, "answer", assistant.Content)

	userAt, err := domain.ParseTimestamp(user.Timestamp)
	require.NoError(t, err)
	assistantAt, err := domain.ParseTimestamp(assistant.Timestamp)
	require.NoError(t, err)
	assert.False(t, assistantAt.Before(userAt))

	loaded, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestCommitTurnClockSkewKeepsOrder(t *testing.T) {
	base := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Second)}
	i := 0
	now := func() time.Time {
		at := times[i]
		i++
		return at
	}

	m := newManager(t, memory.NewStore(), &scriptedLLM{}, conversation.Options{Now: now})
	saved, err := m.CommitTurn(context.Background(), "abc", nil, "q", "a")
	require.NoError(t, err)
	assert.Equal(t, saved[0].Timestamp, saved[1].Timestamp)
}

func TestCompletionFailureLeavesHistoryUntouched(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	before := storagetest.Conversation(4)
	require.NoError(t, store.Save(ctx, "abc", before))

	llm := &scriptedLLM{err: fmt.Errorf("%w: boom", domain.ErrCompletionService)}
	m := newManager(t, store, llm, conversation.Options{})

	out, err := m.Chat(ctx, conversation.ChatInput{SessionKey: "abc", Message: "hello"})
	assert.ErrorIs(t, err, domain.ErrCompletionService)
	assert.Nil(t, out)

	after, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// failingStore fails Load or Save with a fixed error.
type failingStore struct {
	*memory.Store
	loadErr error
	saveErr error
	caps    *domain.StoreCapabilities
}

func (f *failingStore) Load(ctx context.Context, key domain.SessionKey) ([]domain.Message, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.Store.Load(ctx, key)
}

func (f *failingStore) Save(ctx context.Context, key domain.SessionKey, msgs []domain.Message) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Store.Save(ctx, key, msgs)
}

func (f *failingStore) Capabilities() domain.StoreCapabilities {
	if f.caps != nil {
		return *f.caps
	}
	return f.Store.Capabilities()
}

func TestStorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()

	t.Run("corrupt load stops before the model", func(t *testing.T) {
		llm := &scriptedLLM{reply: "x"}
		store := &failingStore{Store: memory.NewStore(), loadErr: fmt.Errorf("%w: bad json", domain.ErrStorageCorrupt)}
		m := newManager(t, store, llm, conversation.Options{})

		_, err := m.Chat(ctx, conversation.ChatInput{SessionKey: "abc", Message: "hi"})
		assert.ErrorIs(t, err, domain.ErrStorageCorrupt)
		assert.Zero(t, llm.calls())

		_, err = m.GetHistory(ctx, "abc")
		assert.ErrorIs(t, err, domain.ErrStorageCorrupt)
	})

	t.Run("unavailable save returns no reply", func(t *testing.T) {
		llm := &scriptedLLM{reply: "x"}
		store := &failingStore{Store: memory.NewStore(), saveErr: fmt.Errorf("%w: down", domain.ErrStorageUnavailable)}
		m := newManager(t, store, llm, conversation.Options{})

		out, err := m.Chat(ctx, conversation.ChatInput{SessionKey: "abc", Message: "hi"})
		assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
		assert.Nil(t, out)
		assert.Equal(t, 1, llm.calls())
	})
}

func TestClientCancelAfterCompletionStartsStillCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewStore()
	llm := &scriptedLLM{reply: "late answer"}
	llm.hook = func(turnCtx context.Context) {
		cancel()
		assert.NoError(t, turnCtx.Err())
	}
	m := newManager(t, store, llm, conversation.Options{})

	out, err := m.Chat(ctx, conversation.ChatInput{SessionKey: "abc", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "late answer", out.Response)

	history, err := store.Load(context.Background(), "abc")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestManagerRefusesStaleBackend(t *testing.T) {
	store := &failingStore{
		Store: memory.NewStore(),
		caps:  &domain.StoreCapabilities{Name: "eventual", ReadAfterWrite: false},
	}
	prompt := domain.PromptFunc(func() string { return "SYS" })

	_, err := conversation.NewManager(store, &scriptedLLM{}, prompt, conversation.Options{})
	assert.Error(t, err)

	m, err := conversation.NewManager(store, &scriptedLLM{}, prompt, conversation.Options{AllowStaleReads: true})
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	prompt := domain.PromptFunc(func() string { return "SYS" })

	_, err := conversation.NewManager(nil, &scriptedLLM{}, prompt, conversation.Options{})
	assert.Error(t, err)
	_, err = conversation.NewManager(memory.NewStore(), nil, prompt, conversation.Options{})
	assert.Error(t, err)
	_, err = conversation.NewManager(memory.NewStore(), &scriptedLLM{}, nil, conversation.Options{})
	assert.Error(t, err)
}

func TestConcurrentChatsOnOneSessionLoseNoTurns(t *testing.T) {
	const turns = 25

	store := memory.NewStore()
	llm := &scriptedLLM{reply: "ok"}
	m := newManager(t, store, llm, conversation.Options{SerializeSessions: true})

	var wg conc.WaitGroup
	for i := 0; i < turns; i++ {
		msg := fmt.Sprintf("turn %d", i)
		wg.Go(func() {
			_, err := m.Chat(context.Background(), conversation.ChatInput{SessionKey: "abc", Message: msg})
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	history, err := store.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, history, 2*turns)

	seen := make(map[string]bool)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, domain.RoleUser, history[i].Role)
		assert.Equal(t, domain.RoleAssistant, history[i+1].Role)
		seen[history[i].Content] = true
	}
	assert.Len(t, seen, turns)
}

func TestChatHonoursCancelWhileWaitingForSession(t *testing.T) {
	store := memory.NewStore()
	release := make(chan struct{})
	entered := make(chan struct{})

	llm := &scriptedLLM{reply: "ok"}
	var once sync.Once
	llm.hook = func(context.Context) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	m := newManager(t, store, llm, conversation.Options{SerializeSessions: true})

	var wg conc.WaitGroup
	wg.Go(func() {
		_, err := m.Chat(context.Background(), conversation.ChatInput{SessionKey: "abc", Message: "first"})
		assert.NoError(t, err)
	})
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Chat(ctx, conversation.ChatInput{SessionKey: "abc", Message: "second"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	wg.Wait()
}

func TestInvalidUTF8NeverReachesStorage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	before := storagetest.Conversation(2)
	require.NoError(t, store.Save(ctx, "abc", before))

	t.Run("user message", func(t *testing.T) {
		llm := &scriptedLLM{reply: "ok"}
		m := newManager(t, store, llm, conversation.Options{})

		_, err := m.Chat(ctx, conversation.ChatInput{SessionKey: "abc", Message: "bad\xffbyte"})
		assert.ErrorIs(t, err, domain.ErrInvalidMessage)
		assert.Zero(t, llm.calls())
	})

	t.Run("model reply", func(t *testing.T) {
		m := newManager(t, store, &scriptedLLM{reply: "bad\xffreply"}, conversation.Options{})

		_, err := m.Chat(ctx, conversation.ChatInput{SessionKey: "abc", Message: "hi"})
		assert.ErrorIs(t, err, domain.ErrCompletionService)
	})

	t.Run("commit turn", func(t *testing.T) {
		m := newManager(t, store, &scriptedLLM{}, conversation.Options{})

		_, err := m.CommitTurn(ctx, "abc", before, "ok", "bad\xff")
		assert.ErrorIs(t, err, domain.ErrInvalidMessage)
	})

	after, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
