package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/twin-relay/internal/adapters/storage/storagetest"
	"github.com/PabloGalante/twin-relay/internal/domain"
)

func TestDocMapping(t *testing.T) {
	msgs := storagetest.Conversation(3)
	now := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)

	doc := toDoc(msgs, now)
	assert.Len(t, doc.Messages, 3)
	assert.Equal(t, now, doc.UpdatedAt)

	back, err := fromDoc(doc)
	require.NoError(t, err)
	assert.Equal(t, msgs, back)
}

func TestEmptyDocMapsToEmptySlice(t *testing.T) {
	back, err := fromDoc(conversationDoc{})
	require.NoError(t, err)
	assert.NotNil(t, back)
	assert.Empty(t, back)
}

func TestUnknownRoleIsCorrupt(t *testing.T) {
	_, err := fromDoc(conversationDoc{Messages: []messageDoc{{Role: "agent", Content: "x"}}})
	assert.ErrorIs(t, err, domain.ErrStorageCorrupt)
}

func TestValidateDocID(t *testing.T) {
	assert.NoError(t, validateDocID("abc"))
	assert.NoError(t, validateDocID("__"))
	assert.ErrorIs(t, validateDocID("__reserved__"), domain.ErrInvalidSessionKey)
	assert.ErrorIs(t, validateDocID("a/b"), domain.ErrInvalidSessionKey)
}

// TestStoreContractEmulator runs against the Firestore emulator when
// FIRESTORE_EMULATOR_HOST is set (gcloud emulators firestore start).
func TestStoreContractEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	storagetest.Run(t, func(t *testing.T) domain.ConversationStore {
		s, err := NewStore(context.Background(), "twin-relay-test", "conversations-"+uuid.NewString())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
