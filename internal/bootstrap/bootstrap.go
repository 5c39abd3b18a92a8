// Package bootstrap wires config into a ready HTTP handler. Both the
// long-running server and the Lambda entrypoint build through it.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	httpadapter "github.com/PabloGalante/twin-relay/internal/adapters/http"
	"github.com/PabloGalante/twin-relay/internal/adapters/llm"
	"github.com/PabloGalante/twin-relay/internal/adapters/persona"
	"github.com/PabloGalante/twin-relay/internal/adapters/storage"
	"github.com/PabloGalante/twin-relay/internal/app/conversation"
	"github.com/PabloGalante/twin-relay/internal/config"
	"github.com/PabloGalante/twin-relay/internal/domain"
	"github.com/PabloGalante/twin-relay/internal/observability"
)

type App struct {
	Store   domain.ConversationStore
	Manager *conversation.Manager
	Handler http.Handler
}

// Build opens the store, the completion client and the persona, and mounts
// the HTTP routes. The caller must Close the returned App.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening conversation store: %w", err)
	}

	app, err := build(ctx, cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, cfg *config.Config, store domain.ConversationStore) (*App, error) {
	llmClient, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initializing llm client: %w", err)
	}

	p, err := persona.Load(cfg.Persona.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading persona: %w", err)
	}

	mgr, err := conversation.NewManager(store, llmClient, p, conversation.Options{
		ContextWindow:     cfg.Conversation.ContextWindow,
		SerializeSessions: cfg.Conversation.SerializeSessions,
		AllowStaleReads:   cfg.Storage.AllowStaleReads,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Store:   store,
		Manager: mgr,
		Handler: httpadapter.NewServer(mgr, cfg.HTTP),
	}, nil
}

// Close releases the store client.
func (a *App) Close() error {
	if err := a.Store.Close(); err != nil {
		log := observability.Logger()
		log.Error().Err(err).Msg("closing conversation store")
		return err
	}
	return nil
}
