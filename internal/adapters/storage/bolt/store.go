package bolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/PabloGalante/twin-relay/internal/adapters/storage/record"
	"github.com/PabloGalante/twin-relay/internal/domain"
)

var bucketName = []byte("conversations")

// Store keeps every session as one JSON value in a single bbolt file.
// bbolt holds an exclusive file lock, so only one process can open it.
type Store struct {
	db *bolt.DB
}

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating bolt directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bolt bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Load(_ context.Context, key domain.SessionKey) ([]domain.Message, error) {
	if err := domain.ValidateSessionKey(key); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		// values are only valid inside the transaction
		if v := b.Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bolt load %s: %v", domain.ErrStorageUnavailable, key, err)
	}

	if data == nil {
		return []domain.Message{}, nil
	}

	msgs, err := record.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("bolt load %s: %w", key, err)
	}
	return msgs, nil
}

func (s *Store) Save(_ context.Context, key domain.SessionKey, msgs []domain.Message) error {
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

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("%w: bolt save %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	return nil
}

func (s *Store) Capabilities() domain.StoreCapabilities {
	return domain.StoreCapabilities{Name: "bolt", ReadAfterWrite: true, Durable: true}
}

func (s *Store) Close() error {
	return s.db.Close()
}
