package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"google.golang.org/genai"
)

type generateContentFunc func(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error)

// GeminiProvider asks a Gemini text model for a JSON enrichment.
type GeminiProvider struct {
	generateContent generateContentFunc
	logger          *logger.Logger
	settings        GenerationSettings
}

// NewGeminiProvider creates the provider. An empty API key yields an
// unconfigured provider rather than an error.
func NewGeminiProvider(ctx context.Context, settings *GenerationSettings, log *logger.Logger) (*GeminiProvider, error) {
	provider := &GeminiProvider{settings: *settings, logger: log}
	if settings.APIKey == "" {
		return provider, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      settings.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: settings.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	provider.generateContent = client.Models.GenerateContent

	return provider, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Configured() bool {
	return p.generateContent != nil
}

func (p *GeminiProvider) Enrich(ctx context.Context, prompt string) (string, error) {
	if !p.Configured() {
		return "", ErrProviderNotConfigured
	}

	if p.settings.TimeoutSeconds > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.settings.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	response, err := p.generateContent(ctx, p.settings.Model, genai.Text(prompt), p.generationConfig())
	if err != nil {
		return "", fmt.Errorf("generate content with %s: %w", p.settings.Model, err)
	}

	if response == nil {
		return "", ErrEmptyReply
	}

	reply := strings.TrimSpace(response.Text())
	if reply == "" {
		return "", ErrEmptyReply
	}

	p.logger.Infof("Gemini enrichment reply from %s: %d characters", p.settings.Model, len(reply))

	return reply, nil
}

func (p *GeminiProvider) generationConfig() *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(p.settings.Temperature)),
		ResponseMIMEType: "application/json",
	}

	if p.settings.MaxTokens > 0 {
		config.MaxOutputTokens = int32(p.settings.MaxTokens)
	}

	if instruction := strings.TrimSpace(p.settings.SystemInstruction); instruction != "" {
		config.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}

	return config
}
