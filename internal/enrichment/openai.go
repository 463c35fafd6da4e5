package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type chatCompletionFunc func(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	opts ...option.RequestOption,
) (*openai.ChatCompletion, error)

// OpenAIProvider is the legacy chat completions backend.
type OpenAIProvider struct {
	complete chatCompletionFunc
	logger   *logger.Logger
	settings GenerationSettings
}

func NewOpenAIProvider(settings *GenerationSettings, log *logger.Logger) *OpenAIProvider {
	provider := &OpenAIProvider{settings: *settings, logger: log}
	if settings.APIKey == "" {
		return provider
	}

	opts := []option.RequestOption{option.WithAPIKey(settings.APIKey)}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}

	client := openai.NewClient(opts...)
	provider.complete = client.Chat.Completions.New

	return provider
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Configured() bool {
	return p.complete != nil
}

func (p *OpenAIProvider) Enrich(ctx context.Context, prompt string) (string, error) {
	if !p.Configured() {
		return "", ErrProviderNotConfigured
	}

	if p.settings.TimeoutSeconds > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.settings.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if instruction := strings.TrimSpace(p.settings.SystemInstruction); instruction != "" {
		messages = append(messages, openai.SystemMessage(instruction))
	}

	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.settings.Model),
		Messages:    messages,
		Temperature: openai.Float(p.settings.Temperature),
	}
	if p.settings.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.settings.MaxTokens))
	}

	completion, err := p.complete(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion with %s: %w", p.settings.Model, err)
	}

	if completion == nil || len(completion.Choices) == 0 {
		return "", ErrEmptyReply
	}

	reply := strings.TrimSpace(completion.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	p.logger.Infof("OpenAI enrichment reply from %s: %d characters", p.settings.Model, len(reply))

	return reply, nil
}
