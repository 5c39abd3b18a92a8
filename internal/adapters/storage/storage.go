// Package storage picks the conversation backend once, at startup.
package storage

import (
	"context"
	"fmt"

	"github.com/PabloGalante/twin-relay/internal/adapters/storage/bolt"
	"github.com/PabloGalante/twin-relay/internal/adapters/storage/file"
	firestorestore "github.com/PabloGalante/twin-relay/internal/adapters/storage/firestore"
	"github.com/PabloGalante/twin-relay/internal/adapters/storage/gcs"
	"github.com/PabloGalante/twin-relay/internal/adapters/storage/memory"
	"github.com/PabloGalante/twin-relay/internal/adapters/storage/retry"
	"github.com/PabloGalante/twin-relay/internal/config"
	"github.com/PabloGalante/twin-relay/internal/domain"
	"github.com/PabloGalante/twin-relay/internal/observability"
)

// Open builds the backend named by cfg.Backend. The caller owns the result
// and must Close it on shutdown.
func Open(ctx context.Context, cfg config.StorageConfig) (domain.ConversationStore, error) {
	log := observability.LoggerFromContext(ctx)

	var (
		store domain.ConversationStore
		err   error
	)

	switch cfg.Backend {
	case config.BackendFile:
		log.Info().Str("root", cfg.Root).Msg("using file storage")
		store = file.NewOSStore(cfg.Root)

	case config.BackendGCS:
		log.Info().Str("bucket", cfg.Bucket).Str("prefix", cfg.Prefix).Msg("using cloud storage")
		store, err = gcs.NewStore(ctx, cfg.Bucket, cfg.Prefix)

	case config.BackendFirestore:
		log.Info().Str("project", cfg.Project).Str("collection", cfg.Collection).Msg("using firestore storage")
		store, err = firestorestore.NewStore(ctx, cfg.Project, cfg.Collection)

	case config.BackendBolt:
		log.Info().Str("path", cfg.BoltPath).Msg("using bolt storage")
		store, err = bolt.NewStore(cfg.BoltPath)

	case config.BackendMemory:
		log.Info().Msg("using in-memory storage")
		store = memory.NewStore()

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s storage: %w", cfg.Backend, err)
	}

	if caps := store.Capabilities(); !caps.Durable {
		log.Warn().Str("backend", caps.Name).Msg("storage is not durable, history is lost on restart")
	}

	if cfg.Retry.MaxRetries > 0 {
		log.Info().
			Uint64("max_retries", cfg.Retry.MaxRetries).
			Dur("base_delay", cfg.Retry.BaseDelay).
			Msg("storage retry enabled")
		store = retry.Wrap(store, cfg.Retry.MaxRetries, cfg.Retry.BaseDelay)
	}

	return store, nil
}
