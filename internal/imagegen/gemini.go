package imagegen

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"google.golang.org/genai"
)

// GeminiConfig holds the settings for Imagen generation through the Gemini API.
type GeminiConfig struct {
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// generateImagesFunc matches genai's Models.GenerateImages so tests can stub it.
type generateImagesFunc func(
	ctx context.Context,
	model, prompt string,
	config *genai.GenerateImagesConfig,
) (*genai.GenerateImagesResponse, error)

// GeminiGenerator renders images with an Imagen model.
type GeminiGenerator struct {
	generateImages generateImagesFunc
	logger         *logger.Logger
	config         GeminiConfig
}

// NewGeminiGenerator creates a generator. Without an API key it is returned
// unconfigured and every Generate call fails with ErrProviderNotConfigured.
func NewGeminiGenerator(ctx context.Context, config *GeminiConfig, log *logger.Logger) (*GeminiGenerator, error) {
	generator := &GeminiGenerator{config: *config, logger: log}
	if config.APIKey == "" {
		return generator, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	generator.generateImages = client.Models.GenerateImages

	return generator, nil
}

func (g *GeminiGenerator) Name() string {
	return "gemini"
}

func (g *GeminiGenerator) Configured() bool {
	return g.generateImages != nil
}

// Generate requests count images and returns the first one.
func (g *GeminiGenerator) Generate(
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

	response, err := g.generateImages(ctx, g.config.Model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: int32(normalizedCount(count)),
		AspectRatio:    aspectRatio,
		OutputMIMEType: DefaultMIMEType,
	})
	if err != nil {
		return Image{}, fmt.Errorf("generate images with %s: %w", g.config.Model, err)
	}

	image, err := firstGeminiImage(response)
	if err != nil {
		return Image{}, err
	}

	report(onProgress, 100)
	g.logger.Infof("Imagen returned %d bytes (%s)", len(image.Data), image.MIMEType)

	return image, nil
}

func firstGeminiImage(response *genai.GenerateImagesResponse) (Image, error) {
	if response == nil || len(response.GeneratedImages) == 0 {
		return Image{}, ErrNoImages
	}

	generated := response.GeneratedImages[0]
	if generated == nil || generated.Image == nil || len(generated.Image.ImageBytes) == 0 {
		if generated != nil && generated.RAIFilteredReason != "" {
			return Image{}, fmt.Errorf("%w: %s", ErrImageFiltered, generated.RAIFilteredReason)
		}

		return Image{}, ErrNoImages
	}

	mimeType := generated.Image.MIMEType
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}

	return Image{Data: generated.Image.ImageBytes, MIMEType: mimeType}, nil
}
