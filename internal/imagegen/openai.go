package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig holds the settings for the legacy OpenAI images endpoint.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

type generateOpenAIImageFunc func(
	ctx context.Context,
	params openai.ImageGenerateParams,
	opts ...option.RequestOption,
) (*openai.ImagesResponse, error)

// OpenAIGenerator renders images with the OpenAI images API.
type OpenAIGenerator struct {
	generate generateOpenAIImageFunc
	logger   *logger.Logger
	config   OpenAIConfig
}

// NewOpenAIGenerator creates a generator; an empty API key leaves it unconfigured.
func NewOpenAIGenerator(config *OpenAIConfig, log *logger.Logger) *OpenAIGenerator {
	generator := &OpenAIGenerator{config: *config, logger: log}
	if config.APIKey == "" {
		return generator
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := openai.NewClient(opts...)
	generator.generate = client.Images.Generate

	return generator
}

func (g *OpenAIGenerator) Name() string {
	return "openai"
}

func (g *OpenAIGenerator) Configured() bool {
	return g.generate != nil
}

func (g *OpenAIGenerator) Generate(
	ctx context.Context,
	prompt, aspectRatio string,
	count int,
	onProgress ProgressFunc,
) (Image, error) {
	if !g.Configured() {
		return Image{}, ErrProviderNotConfigured
	}

	if g.config.TimeoutSeconds > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(g.config.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	report(onProgress, 0)

	response, err := g.generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(g.config.Model),
		N:              openai.Int(int64(openAIImageCount(g.config.Model, count))),
		Size:           sizeForAspectRatio(aspectRatio),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return Image{}, fmt.Errorf("generate image with %s: %w", g.config.Model, err)
	}

	if response == nil || len(response.Data) == 0 || response.Data[0].B64JSON == "" {
		return Image{}, ErrNoImages
	}

	data, err := base64.StdEncoding.DecodeString(response.Data[0].B64JSON)
	if err != nil {
		return Image{}, fmt.Errorf("decode image payload: %w", err)
	}

	report(onProgress, 100)
	g.logger.Infof("OpenAI image returned %d bytes", len(data))

	return Image{Data: data, MIMEType: DefaultMIMEType}, nil
}

// openAIImageCount clamps count to what model accepts; dall-e-3 takes only n=1.
func openAIImageCount(model string, count int) int {
	if strings.EqualFold(strings.TrimSpace(model), string(openai.ImageModelDallE3)) {
		return 1
	}

	return normalizedCount(count)
}

func sizeForAspectRatio(aspectRatio string) openai.ImageGenerateParamsSize {
	switch aspectRatio {
	case "16:9", "4:3", "3:2":
		return openai.ImageGenerateParamsSize1792x1024
	case "9:16", "3:4", "2:3":
		return openai.ImageGenerateParamsSize1024x1792
	default:
		return openai.ImageGenerateParamsSize1024x1024
	}
}
