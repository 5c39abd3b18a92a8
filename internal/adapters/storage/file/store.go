package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/PabloGalante/twin-relay/internal/adapters/storage/record"
	"github.com/PabloGalante/twin-relay/internal/domain"
)

// Store keeps one JSON file per session under root. The root directory is
// created on the first Save, not at construction.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore creates a file store on top of any afero filesystem.
func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// NewOSStore is the production constructor, backed by the real filesystem.
func NewOSStore(root string) *Store {
	return NewStore(afero.NewOsFs(), root)
}

func (s *Store) path(key domain.SessionKey) string {
	return filepath.Join(s.root, record.Name("", key))
}

func (s *Store) Load(_ context.Context, key domain.SessionKey) ([]domain.Message, error) {
	if err := domain.ValidateSessionKey(key); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.Message{}, nil
		}
		return nil, fmt.Errorf("%w: file load %s: %v", domain.ErrStorageUnavailable, key, err)
	}

	msgs, err := record.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("file load %s: %w", key, err)
	}
	return msgs, nil
}

// Save writes to a temp file next to the target and renames it into place,
// so readers see either the old record or the new one.
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

	if err := s.fs.MkdirAll(s.root, 0o750); err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrStorageUnavailable, s.root, err)
	}

	tmp, err := afero.TempFile(s.fs, s.root, ".twin-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: file save %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("%w: file save %s: %v", domain.ErrStorageUnavailable, key, werr)
	}

	if err := s.fs.Rename(tmpName, s.path(key)); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("%w: file save %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	return nil
}

func (s *Store) Capabilities() domain.StoreCapabilities {
	return domain.StoreCapabilities{Name: "file", ReadAfterWrite: true, Durable: true}
}

func (s *Store) Close() error { return nil }
