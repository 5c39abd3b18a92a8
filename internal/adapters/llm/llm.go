package llm

import (
	"context"
	"fmt"

	"github.com/PabloGalante/twin-relay/internal/config"
	"github.com/PabloGalante/twin-relay/internal/domain"
	"github.com/PabloGalante/twin-relay/internal/observability"
)

// New returns the completion client for cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (domain.CompletionClient, error) {
	log := observability.LoggerFromContext(ctx)

	switch cfg.Provider {
	case config.ProviderMock:
		log.Info().Msg("using mock LLM client")
		return NewMockLLM(), nil
	case config.ProviderVertex, config.ProviderGemini:
		log.Info().Str("provider", string(cfg.Provider)).Str("model", cfg.Model).Msg("using genai LLM client")
		c, err := NewGenAIClient(ctx, cfg, nil)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderAnthropic:
		log.Info().Str("model", cfg.Model).Msg("using anthropic LLM client")
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
