package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/PabloGalante/twin-relay/internal/config"
	"github.com/PabloGalante/twin-relay/internal/domain"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicClient implements domain.CompletionClient on the Messages API.
type AnthropicClient struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// NewAnthropicClient builds the client. The SDK's own retries are turned off:
// a failed completion is surfaced to the caller as is.
func NewAnthropicClient(cfg config.LLMConfig, opts ...option.RequestOption) *AnthropicClient {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(append(base, opts...)...),
		model:       anthropic.Model(model),
		maxTokens:   maxTokens,
		temperature: float64(cfg.Temperature),
	}
}

func toAnthropicParams(msgs []domain.PromptMessage) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system []anthropic.TextBlockParam
		conv   []anthropic.MessageParam
	)

	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case domain.RoleAssistant:
			conv = append(conv, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			conv = append(conv, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, conv
}

func (c *AnthropicClient) Complete(ctx context.Context, msgs []domain.PromptMessage) (string, error) {
	system, conv := toAnthropicParams(msgs)
	if len(conv) == 0 {
		return "", fmt.Errorf("%w: no user content to send", domain.ErrCompletionService)
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Messages:    conv,
		System:      system,
		Temperature: anthropic.Float(c.temperature),
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: anthropic messages: %v", domain.ErrCompletionService, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if v, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(v.Text)
		}
	}

	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: anthropic returned no text", domain.ErrCompletionService)
	}
	return text, nil
}
