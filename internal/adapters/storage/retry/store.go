// Package retry wraps a ConversationStore with a bounded exponential backoff
// for ErrStorageUnavailable. Backends themselves never retry; this is the
// opt-in policy layer on top of them.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/PabloGalante/twin-relay/internal/domain"
	"github.com/PabloGalante/twin-relay/internal/observability"
)

type Store struct {
	next       domain.ConversationStore
	maxRetries uint64
	baseDelay  time.Duration
}

// Wrap decorates next. maxRetries counts attempts after the first one.
func Wrap(next domain.ConversationStore, maxRetries uint64, baseDelay time.Duration) *Store {
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	return &Store{next: next, maxRetries: maxRetries, baseDelay: baseDelay}
}

func (s *Store) backoff() retry.Backoff {
	b := retry.NewExponential(s.baseDelay)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(s.maxRetries, b)
}

func (s *Store) do(ctx context.Context, op string, key domain.SessionKey, fn func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrStorageUnavailable) {
			return err
		}

		log := observability.LoggerFromContext(ctx)
		log.Warn().
			Err(err).
			Str("op", op).
			Str("session_key", string(key)).
			Int("attempt", attempt).
			Msg("storage unavailable, retrying")
		return retry.RetryableError(err)
	})
}

func (s *Store) Load(ctx context.Context, key domain.SessionKey) ([]domain.Message, error) {
	var out []domain.Message
	err := s.do(ctx, "load", key, func(ctx context.Context) error {
		msgs, err := s.next.Load(ctx, key)
		if err != nil {
			return err
		}
		out = msgs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save is safe to repeat because every save is a full overwrite.
func (s *Store) Save(ctx context.Context, key domain.SessionKey, msgs []domain.Message) error {
	return s.do(ctx, "save", key, func(ctx context.Context) error {
		return s.next.Save(ctx, key, msgs)
	})
}

func (s *Store) Capabilities() domain.StoreCapabilities {
	return s.next.Capabilities()
}

func (s *Store) Close() error {
	return s.next.Close()
}
