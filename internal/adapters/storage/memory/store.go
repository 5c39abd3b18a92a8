package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/twin-relay/internal/domain"
)

// Store is an in-memory domain.ConversationStore.
// It is NOT persistent and is only suitable for development / tests.
type Store struct {
	mu            sync.RWMutex
	conversations map[domain.SessionKey][]domain.Message
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[domain.SessionKey][]domain.Message),
	}
}

func (s *Store) Load(_ context.Context, key domain.SessionKey) ([]domain.Message, error) {
	if err := domain.ValidateSessionKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.CloneMessages(s.conversations[key]), nil
}

func (s *Store) Save(_ context.Context, key domain.SessionKey, msgs []domain.Message) error {
	if err := domain.ValidateSessionKey(key); err != nil {
		return err
	}
	if err := domain.ValidateMessages(msgs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[key] = domain.CloneMessages(msgs)
	return nil
}

func (s *Store) Capabilities() domain.StoreCapabilities {
	return domain.StoreCapabilities{Name: "memory", ReadAfterWrite: true, Durable: false}
}

func (s *Store) Close() error { return nil }
