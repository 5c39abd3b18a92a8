// Package storagetest holds the behavioural contract every
// domain.ConversationStore must satisfy. Backend packages call Run from their
// own tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/twin-relay/internal/domain"
)

// Factory returns a fresh, empty store. It is called once per subtest.
type Factory func(t *testing.T) domain.ConversationStore

// Conversation builds n alternating user/assistant messages with increasing
// timestamps.
func Conversation(n int) []domain.Message {
	msgs := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msgs = append(msgs, domain.Message{
			Role:      role,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: fmt.Sprintf("2024-05-01T13:00:%02d.000000Z", i%60),
		})
	}
	return msgs
}

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("EmptyDefault", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Load(context.Background(), "never-seen")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		msgs := Conversation(7)
		msgs = append(msgs, domain.Message{
			Role:      domain.RoleSystem,
			Content:   "unicode ✓ \"quotes\" and\nnewlines",
			Timestamp: "2024-05-01T13:01:00.123456Z",
		})

		require.NoError(t, s.Save(ctx, "abc", msgs))

		got, err := s.Load(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, msgs, got)
	})

	t.Run("SaveOverwritesWholeRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, "k", Conversation(6)))
		shorter := Conversation(2)
		require.NoError(t, s.Save(ctx, "k", shorter))

		got, err := s.Load(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, shorter, got)
	})

	t.Run("EmptySaveLoadsEmpty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, "k", []domain.Message{}))
		got, err := s.Load(ctx, "k")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("KeysAreIsolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, b := Conversation(3), Conversation(5)
		require.NoError(t, s.Save(ctx, "a", a))
		require.NoError(t, s.Save(ctx, "b", b))

		got, err := s.Load(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, a, got)

		got, err = s.Load(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, b, got)
	})

	t.Run("LoadDoesNotAliasStore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		msgs := Conversation(2)
		require.NoError(t, s.Save(ctx, "k", msgs))
		msgs[0].Content = "mutated after save"

		got, err := s.Load(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "message 0", got[0].Content)

		got[1].Content = "mutated after load"
		again, err := s.Load(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "message 1", again[1].Content)
	})

	t.Run("RejectsUnsafeKeys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, k := range []domain.SessionKey{"", "../escape", "a/b", "nl\n"} {
			_, err := s.Load(ctx, k)
			assert.ErrorIs(t, err, domain.ErrInvalidSessionKey, "load %q", k)

			err = s.Save(ctx, k, Conversation(1))
			assert.ErrorIs(t, err, domain.ErrInvalidSessionKey, "save %q", k)
		}
	})

	t.Run("RejectsInvalidMessages", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		before := Conversation(2)
		require.NoError(t, s.Save(ctx, "k", before))

		bad := []domain.Message{
			{Role: domain.RoleUser, Content: "bad\xffbyte", Timestamp: "2024-05-01T13:00:00.000000Z"},
			{Role: domain.RoleUser, Content: "ok", Timestamp: "garbage"},
			{Role: "agent", Content: "ok", Timestamp: "2024-05-01T13:00:00.000000Z"},
		}
		for _, m := range bad {
			err := s.Save(ctx, "k", append(Conversation(1), m))
			assert.ErrorIs(t, err, domain.ErrInvalidMessage, "save %+v", m)
		}

		got, err := s.Load(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, before, got, "a rejected save leaves the record untouched")
	})

	t.Run("ReadAfterWrite", func(t *testing.T) {
		s := newStore(t)
		assert.True(t, s.Capabilities().ReadAfterWrite)
		assert.NotEmpty(t, s.Capabilities().Name)
	})
}

// Equivalent replays the same save sequence on every store and checks the
// loads agree.
func Equivalent(t *testing.T, stores map[string]domain.ConversationStore) {
	t.Helper()
	ctx := context.Background()

	steps := []struct {
		key  domain.SessionKey
		msgs []domain.Message
	}{
		{"s1", Conversation(2)},
		{"s2", Conversation(11)},
		{"s1", Conversation(4)},
		{"s3", []domain.Message{}},
	}

	invalid := []domain.Message{{Role: domain.RoleUser, Content: "bad\xffbyte", Timestamp: "2024-05-01T13:00:00.000000Z"}}

	for name, s := range stores {
		for _, st := range steps {
			require.NoError(t, s.Save(ctx, st.key, st.msgs), name)
		}
		assert.ErrorIs(t, s.Save(ctx, "s4", invalid), domain.ErrInvalidMessage, name)
	}

	for _, key := range []domain.SessionKey{"s1", "s2", "s3", "s4", "missing"} {
		var (
			ref     []domain.Message
			refName string
		)
		for name, s := range stores {
			got, err := s.Load(ctx, key)
			require.NoError(t, err, name)
			if refName == "" {
				ref, refName = got, name
				continue
			}
			assert.Equal(t, ref, got, "%s and %s disagree on %q", refName, name, key)
		}
	}
}
