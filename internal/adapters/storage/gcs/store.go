package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/PabloGalante/twin-relay/internal/adapters/storage/record"
	"github.com/PabloGalante/twin-relay/internal/domain"
)

// Bucket is the slice of the object store API the Store needs. Read must
// return an error matching storage.ErrObjectNotExist for missing objects.
type Bucket interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}

// Store keeps one object per session in a Cloud Storage bucket.
type Store struct {
	bucket Bucket
	prefix string
	client *storage.Client
}

// NewStore opens a Cloud Storage client using Application Default
// Credentials. The client lives until Close.
func NewStore(ctx context.Context, bucketName, prefix string) (*Store, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required for gcs store")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &Store{
		bucket: bucketHandle{h: client.Bucket(bucketName)},
		prefix: prefix,
		client: client,
	}, nil
}

// NewStoreWithBucket wires an arbitrary Bucket, e.g. a fake in tests.
func NewStoreWithBucket(b Bucket, prefix string) *Store {
	return &Store{bucket: b, prefix: prefix}
}

func (s *Store) Load(ctx context.Context, key domain.SessionKey) ([]domain.Message, error) {
	if err := domain.ValidateSessionKey(key); err != nil {
		return nil, err
	}

	name := record.Name(s.prefix, key)
	data, err := s.bucket.Read(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return []domain.Message{}, nil
		}
		return nil, fmt.Errorf("%w: gcs read %s: %v", domain.ErrStorageUnavailable, name, err)
	}

	msgs, err := record.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", name, err)
	}
	return msgs, nil
}

// Save uploads the whole record. Cloud Storage object writes are atomic:
// the new generation becomes visible only once the upload completes.
func (s *Store) Save(ctx context.Context, key domain.SessionKey, msgs []domain.Message) error {
	if err := domain.ValidateSessionKey(key); err != nil {
		return err
	}
	if err := domain.ValidateMessages(msgs); err != nil {
		return err
	}

	data, err := record.Encode(msgs)
	if err != nil {
		return err
	}

	name := record.Name(s.prefix, key)
	if err := s.bucket.Write(ctx, name, data); err != nil {
		return fmt.Errorf("%w: gcs write %s: %v", domain.ErrStorageUnavailable, name, err)
	}
	return nil
}

// Capabilities: Cloud Storage offers strong read-after-write consistency
// for object uploads.
func (s *Store) Capabilities() domain.StoreCapabilities {
	return domain.StoreCapabilities{Name: "gcs", ReadAfterWrite: true, Durable: true}
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ─────────────────────────────────────────
// Cloud Storage bucket
// ─────────────────────────────────────────

type bucketHandle struct {
	h *storage.BucketHandle
}

func (b bucketHandle) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := b.h.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

func (b bucketHandle) Write(ctx context.Context, name string, data []byte) error {
	// cancelling the context is the only way to abort an upload
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.h.Object(name).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}
