package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"RegScanner/internal/config"
	"RegScanner/internal/ports"
)

const defaultMaxTokens = 500

// AnthropicCompleter implements ports.Completer with the Messages API.
type AnthropicCompleter struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int
}

var _ ports.Completer = (*AnthropicCompleter)(nil)

// NewAnthropicCompleter builds a client from configuration.
func NewAnthropicCompleter(cfg config.LLMConfig) (*AnthropicCompleter, error) {
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil, fmt.Errorf("anthropic completer misconfigured")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicCompleter{
		client:    &client,
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Complete returns the text of the first content block.
func (c *AnthropicCompleter) Complete(ctx context.Context, req ports.Completion) (string, error) {
	tokens := maxTokens(req.MaxTokens, c.maxTokens)
	if tokens <= 0 {
		tokens = defaultMaxTokens
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(tokens),
		System: []anthropic.TextBlockParam{
			{Text: safePrompt(req.System)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	if len(resp.Content) == 0 {
		return "", fmt.Errorf("no response from anthropic")
	}

	return resp.Content[0].Text, nil
}

// NewCompleter picks the provider named in configuration.
func NewCompleter(cfg config.LLMConfig) (ports.Completer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewChatGPTCompleter(cfg)
	case config.ProviderAnthropic, "":
		return NewAnthropicCompleter(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
