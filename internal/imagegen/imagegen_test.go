package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/book-expert/logger"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

var errQuotaExceeded = errors.New("quota exceeded")

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func TestGeminiGenerator_UnconfiguredWithoutKey(t *testing.T) {
	t.Parallel()

	generator, err := NewGeminiGenerator(context.Background(), &GeminiConfig{Model: "imagen"}, newTestLogger(t))
	require.NoError(t, err)
	require.False(t, generator.Configured())

	_, err = generator.Generate(context.Background(), "prompt", "1:1", 1, nil)
	require.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestGeminiGenerator_Generate(t *testing.T) {
	t.Parallel()

	var captured *genai.GenerateImagesConfig

	generator := &GeminiGenerator{
		config: GeminiConfig{Model: "imagen-test"},
		logger: newTestLogger(t),
		generateImages: func(
			_ context.Context,
			model, prompt string,
			config *genai.GenerateImagesConfig,
		) (*genai.GenerateImagesResponse, error) {
			assert.Equal(t, "imagen-test", model)
			assert.Equal(t, "a serpent", prompt)
			captured = config

			return &genai.GenerateImagesResponse{
				GeneratedImages: []*genai.GeneratedImage{
					{Image: &genai.Image{ImageBytes: []byte("png-bytes")}},
				},
			}, nil
		},
	}

	var progress []int

	image, err := generator.Generate(context.Background(), "a serpent", "16:9", 0, func(percent int) {
		progress = append(progress, percent)
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("png-bytes"), image.Data)
	assert.Equal(t, DefaultMIMEType, image.MIMEType)
	assert.False(t, image.Placeholder)
	assert.Equal(t, []int{0, 100}, progress)
	require.NotNil(t, captured)
	assert.Equal(t, int32(1), captured.NumberOfImages)
	assert.Equal(t, "16:9", captured.AspectRatio)
}

func TestGeminiGenerator_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		response    *genai.GenerateImagesResponse
		err         error
		expectedErr error
	}{
		{name: "provider error", err: errQuotaExceeded, expectedErr: errQuotaExceeded},
		{name: "no images", response: &genai.GenerateImagesResponse{}, expectedErr: ErrNoImages},
		{
			name: "filtered",
			response: &genai.GenerateImagesResponse{
				GeneratedImages: []*genai.GeneratedImage{{RAIFilteredReason: "safety"}},
			},
			expectedErr: ErrImageFiltered,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			generator := &GeminiGenerator{
				logger: newTestLogger(t),
				generateImages: func(
					context.Context, string, string, *genai.GenerateImagesConfig,
				) (*genai.GenerateImagesResponse, error) {
					return testCase.response, testCase.err
				},
			}

			_, err := generator.Generate(context.Background(), "prompt", "1:1", 1, nil)
			require.ErrorIs(t, err, testCase.expectedErr)
		})
	}
}

func TestOpenAIGenerator_UnconfiguredWithoutKey(t *testing.T) {
	t.Parallel()

	generator := NewOpenAIGenerator(&OpenAIConfig{Model: "dall-e-3"}, newTestLogger(t))
	require.False(t, generator.Configured())

	_, err := generator.Generate(context.Background(), "prompt", "1:1", 1, nil)
	require.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	t.Parallel()

	var captured openai.ImageGenerateParams

	generator := &OpenAIGenerator{
		config: OpenAIConfig{Model: "dall-e-3"},
		logger: newTestLogger(t),
		generate: func(
			_ context.Context,
			params openai.ImageGenerateParams,
			_ ...option.RequestOption,
		) (*openai.ImagesResponse, error) {
			captured = params

			return &openai.ImagesResponse{
				Data: []openai.Image{{B64JSON: base64.StdEncoding.EncodeToString([]byte("raw-png"))}},
			}, nil
		},
	}

	image, err := generator.Generate(context.Background(), "a phoenix", "9:16", 4, nil)
	require.NoError(t, err)

	assert.Equal(t, []byte("raw-png"), image.Data)
	assert.Equal(t, "a phoenix", captured.Prompt)
	assert.Equal(t, openai.ImageGenerateParamsSize1024x1792, captured.Size)
	assert.Equal(t, openai.Int(1), captured.N)
}

func TestOpenAIImageCount(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		model    string
		count    int
		expected int
	}{
		{model: "dall-e-3", count: 4, expected: 1},
		{model: " DALL-E-3 ", count: 2, expected: 1},
		{model: "dall-e-2", count: 3, expected: 3},
		{model: "dall-e-2", count: 0, expected: 1},
		{model: "gpt-image-1", count: 2, expected: 2},
	}

	for _, testCase := range testCases {
		assert.Equal(t, testCase.expected, openAIImageCount(testCase.model, testCase.count),
			"model %q count %d", testCase.model, testCase.count)
	}
}

func TestOpenAIGenerator_EmptyResponse(t *testing.T) {
	t.Parallel()

	generator := &OpenAIGenerator{
		logger: newTestLogger(t),
		generate: func(
			context.Context, openai.ImageGenerateParams, ...option.RequestOption,
		) (*openai.ImagesResponse, error) {
			return &openai.ImagesResponse{}, nil
		},
	}

	_, err := generator.Generate(context.Background(), "prompt", "1:1", 1, nil)
	require.ErrorIs(t, err, ErrNoImages)
}

func TestSizeForAspectRatio(t *testing.T) {
	t.Parallel()

	assert.Equal(t, openai.ImageGenerateParamsSize1792x1024, sizeForAspectRatio("16:9"))
	assert.Equal(t, openai.ImageGenerateParamsSize1024x1792, sizeForAspectRatio("9:16"))
	assert.Equal(t, openai.ImageGenerateParamsSize1024x1024, sizeForAspectRatio("1:1"))
	assert.Equal(t, openai.ImageGenerateParamsSize1024x1024, sizeForAspectRatio(""))
}
