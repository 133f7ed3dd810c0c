package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"
)

const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"

	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGeminiModel    = "gemini-2.0-flash"
	defaultGeminiBaseURL  = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultMaxTokens      = 1000
)

// Completer sends one prompt to a model and returns its text answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// NewCompleter builds the SDK client for spec. A spec without an API key
// yields a completer that always fails with ErrNotConfigured.
func NewCompleter(spec Spec) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(spec.Provider))
	if strings.TrimSpace(spec.APIKey) == "" {
		return notConfigured(provider), nil
	}
	maxTokens := spec.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	switch provider {
	case ProviderOpenAI, "":
		return newOpenAI(spec.APIKey, spec.BaseURL, orDefault(spec.Model, defaultOpenAIModel), maxTokens), nil
	case ProviderGemini:
		return newOpenAI(spec.APIKey, orDefault(spec.BaseURL, defaultGeminiBaseURL), orDefault(spec.Model, defaultGeminiModel), maxTokens), nil
	case ProviderAnthropic:
		return newAnthropic(spec.APIKey, spec.BaseURL, orDefault(spec.Model, defaultAnthropicModel), maxTokens), nil
	default:
		return nil, fmt.Errorf("unknown evaluator provider: %s", spec.Provider)
	}
}

func notConfigured(provider string) Completer {
	return CompleterFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("%w: %s api key not set", ErrNotConfigured, provider)
	})
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

// ---- OpenAI-compatible (openai, gemini) ----

type openaiCompleter struct {
	client    openai.Client
	model     string
	maxTokens int
}

func newOpenAI(apiKey, baseURL, model string, maxTokens int) *openaiCompleter {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(apiKey)}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	return &openaiCompleter{client: openai.NewClient(opts...), model: model, maxTokens: maxTokens}
}

func (c *openaiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		MaxTokens: openai.Int(int64(c.maxTokens)),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// ---- Anthropic ----

type anthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

func newAnthropic(apiKey, baseURL, model string, maxTokens int) *anthropicCompleter {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &anthropicCompleter{client: anthropic.NewClient(opts...), model: model, maxTokens: maxTokens}
}

func (c *anthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		MaxTokens: int64(c.maxTokens),
		Model:     anthropic.Model(c.model),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String(), nil
}
