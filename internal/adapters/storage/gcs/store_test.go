package gcs_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/twin-relay/internal/adapters/storage/file"
	"github.com/PabloGalante/twin-relay/internal/adapters/storage/gcs"
	"github.com/PabloGalante/twin-relay/internal/adapters/storage/memory"
	"github.com/PabloGalante/twin-relay/internal/adapters/storage/storagetest"
	"github.com/PabloGalante/twin-relay/internal/domain"
)

// fakeBucket mimics Cloud Storage semantics: missing objects report
// storage.ErrObjectNotExist and writes replace the whole object.
type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	readErr  error
	writeErr error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) Read(_ context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.readErr != nil {
		return nil, b.readErr
	}
	data, ok := b.objects[name]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return append([]byte(nil), data...), nil
}

func (b *fakeBucket) Write(_ context.Context, name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writeErr != nil {
		return b.writeErr
	}
	b.objects[name] = append([]byte(nil), data...)
	return nil
}

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) domain.ConversationStore {
		return gcs.NewStoreWithBucket(newFakeBucket(), "conversations/")
	})
}

func TestObjectNaming(t *testing.T) {
	b := newFakeBucket()
	s := gcs.NewStoreWithBucket(b, "twin/")

	require.NoError(t, s.Save(context.Background(), "abc", storagetest.Conversation(1)))

	_, ok := b.objects["twin/abc.json"]
	assert.True(t, ok, "object stored as <prefix><key>.json")
}

func TestBackendErrorsAreUnavailable(t *testing.T) {
	b := newFakeBucket()
	s := gcs.NewStoreWithBucket(b, "")
	ctx := context.Background()

	b.readErr = errors.New("googleapi: Error 403: caller does not have storage.objects.get access")
	_, err := s.Load(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	b.writeErr = errors.New("dial tcp: i/o timeout")
	err = s.Save(ctx, "abc", storagetest.Conversation(2))
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestCorruptObjectIsSurfaced(t *testing.T) {
	b := newFakeBucket()
	b.objects["abc.json"] = []byte("not json")
	s := gcs.NewStoreWithBucket(b, "")

	_, err := s.Load(context.Background(), "abc")
	assert.ErrorIs(t, err, domain.ErrStorageCorrupt)
}

func TestBackendEquivalence(t *testing.T) {
	storagetest.Equivalent(t, map[string]domain.ConversationStore{
		"file":   file.NewStore(afero.NewMemMapFs(), "/memory"),
		"gcs":    gcs.NewStoreWithBucket(newFakeBucket(), "memory/"),
		"memory": memory.NewStore(),
	})
}

func TestCloseWithoutClient(t *testing.T) {
	s := gcs.NewStoreWithBucket(newFakeBucket(), "")
	assert.NoError(t, s.Close())
}
