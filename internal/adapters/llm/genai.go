package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/PabloGalante/twin-relay/internal/config"
	"github.com/PabloGalante/twin-relay/internal/domain"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GenAIClient implements domain.CompletionClient on Gemini, either through
// Vertex AI or through the Gemini API.
type GenAIClient struct {
	client      *genai.Client
	modelName   string
	temperature float32
	maxTokens   int32
}

// NewGenAIClient creates the client for the vertex or gemini provider.
// Extra fields of cc (HTTP options, custom client) are kept.
func NewGenAIClient(ctx context.Context, cfg config.LLMConfig, cc *genai.ClientConfig) (*GenAIClient, error) {
	if cc == nil {
		cc = &genai.ClientConfig{}
	}

	switch cfg.Provider {
	case config.ProviderVertex:
		if cfg.Project == "" || cfg.Location == "" {
			return nil, fmt.Errorf("llm.project and llm.location must be set for vertex")
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	case config.ProviderGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm.api_key must be set for gemini")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	default:
		return nil, fmt.Errorf("genai client does not serve provider %q", cfg.Provider)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GenAIClient{
		client:      client,
		modelName:   modelName,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

// toGenAIContents splits the prompt into Gemini's system instruction and the
// turn list. Several system messages are joined in order.
func toGenAIContents(msgs []domain.PromptMessage) (*genai.Content, []*genai.Content) {
	var (
		systemParts []string
		contents    []*genai.Content
	)

	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if len(systemParts) == 0 {
		return nil, contents
	}
	// According to official examples, the role here is usually RoleUser, not "system"
	return genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser), contents
}

// Complete implements domain.CompletionClient.
func (c *GenAIClient) Complete(ctx context.Context, msgs []domain.PromptMessage) (string, error) {
	system, contents := toGenAIContents(msgs)
	if len(contents) == 0 {
		return "", fmt.Errorf("%w: no user content to send", domain.ErrCompletionService)
	}

	temp := c.temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       &temp,
		MaxOutputTokens:   c.maxTokens,
	}

	res, err := c.client.Models.GenerateContent(ctx, c.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("%w: genai generate content: %v", domain.ErrCompletionService, err)
	}

	text := res.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: genai returned empty text", domain.ErrCompletionService)
	}

	return text, nil
}
