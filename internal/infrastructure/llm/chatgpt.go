package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"RegScanner/internal/config"
	"RegScanner/internal/ports"
)

// ChatGPTCompleter implements ports.Completer backed by OpenAI-compatible APIs.
type ChatGPTCompleter struct {
	client    *openai.Client
	model     openai.ChatModel
	maxTokens int
}

var _ ports.Completer = (*ChatGPTCompleter)(nil)

// NewChatGPTCompleter builds a client from configuration. Endpoint, when set,
// points the SDK at a compatible gateway.
func NewChatGPTCompleter(cfg config.LLMConfig) (*ChatGPTCompleter, error) {
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil, fmt.Errorf("chatgpt completer misconfigured")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	client := openai.NewClient(opts...)

	return &ChatGPTCompleter{
		client:    &client,
		model:     openai.ChatModel(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Complete sends the prompt as a system plus user message pair.
func (c *ChatGPTCompleter) Complete(ctx context.Context, req ports.Completion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(safePrompt(req.System)),
			openai.UserMessage(req.User),
		},
	}
	if tokens := maxTokens(req.MaxTokens, c.maxTokens); tokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(tokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return resp.Choices[0].Message.Content, nil
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You are a compliance analyst. Answer with JSON only."
	}
	return prompt
}

func maxTokens(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}
