/* DO EVERYTHING WITH LOVE, CARE, HONESTY, TRUTH, TRUST, KINDNESS, RELIABILITY, CONSISTENCY, DISCIPLINE, RESILIENCE, CRAFTSMANSHIP, HUMILITY, ALLIANCE, EXPLICITNESS */

// Package config loads the plate generation service settings from project.toml.
// Secrets never live in the file: the file names the environment variables that hold them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

const DefaultConfigFilename = "project.toml"

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

var (
	// ErrInvalidSegmentCount is returned when batch.segment_count is below one.
	ErrInvalidSegmentCount = errors.New("batch.segment_count must be at least 1")
	// ErrUnknownProvider is returned when a provider name is neither gemini nor openai.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrMissingSubject is returned when a required NATS subject is empty.
	ErrMissingSubject = errors.New("missing NATS subject")
	// ErrSegmentCountAboveMax is returned when batch.segment_count exceeds batch.max_segment_count.
	ErrSegmentCountAboveMax = errors.New("batch.segment_count exceeds batch.max_segment_count")
	// ErrNegativeDelay is returned when the inter-item delay is negative.
	ErrNegativeDelay = errors.New("batch.inter_item_delay_milliseconds cannot be negative")
)

type Config struct {
	Service    ServiceSettings    `toml:"service"`
	Enrichment EnrichmentSettings `toml:"enrichment"`
	Image      ImageSettings      `toml:"image"`
	Batch      BatchSettings      `toml:"batch"`
	NATS       NATSSettings       `toml:"nats"`
}

type ServiceSettings struct {
	LogDir string `toml:"log_dir"`
}

// ProviderSettings describes one backend account. The API key is looked up in the
// environment variable named by APIKeyEnvironmentVariable.
type ProviderSettings struct {
	APIKeyEnvironmentVariable string `toml:"api_key_variable"`
	BaseURL                   string `toml:"base_url"`
	Model                     string `toml:"model"`
}

type EnrichmentSettings struct {
	Provider          string           `toml:"provider"`
	TimeoutSeconds    int              `toml:"timeout_seconds"`
	Temperature       float64          `toml:"temperature"`
	MaxTokens         int              `toml:"max_tokens"`
	SystemInstruction string           `toml:"system_instruction"`
	Gemini            ProviderSettings `toml:"gemini"`
	OpenAI            ProviderSettings `toml:"openai"`
}

type ImageSettings struct {
	Provider       string           `toml:"provider"`
	AspectRatio    string           `toml:"aspect_ratio"`
	Count          int              `toml:"count"`
	TimeoutSeconds int              `toml:"timeout_seconds"`
	Gemini         ProviderSettings `toml:"gemini"`
	OpenAI         ProviderSettings `toml:"openai"`
}

type BatchSettings struct {
	SegmentCount               int  `toml:"segment_count"`
	MaxSegmentCount            int  `toml:"max_segment_count"`
	InterItemDelayMilliseconds int  `toml:"inter_item_delay_milliseconds"`
	SignalLiveOutput           bool `toml:"signal_live_output"`
	GridColumns                int  `toml:"grid_columns"`
	CellSizePixels             int  `toml:"cell_size_pixels"`
}

type NATSSettings struct {
	URL         string              `toml:"url"`
	DLQSubject  string              `toml:"dlq_subject"`
	Consumer    ConsumerSettings    `toml:"consumer"`
	Producer    ProducerSettings    `toml:"producer"`
	ObjectStore ObjectStoreSettings `toml:"object_store"`
}

type ConsumerSettings struct {
	Stream     string `toml:"stream"`
	Subject    string `toml:"subject"`
	Durable    string `toml:"durable"`
	MaxDeliver int    `toml:"max_deliver"`
}

type ProducerSettings struct {
	Stream            string `toml:"stream"`
	ItemReadySubject  string `toml:"item_ready_subject"`
	ItemFailedSubject string `toml:"item_failed_subject"`
	ProgressSubject   string `toml:"progress_subject"`
	CompletedSubject  string `toml:"completed_subject"`
}

type ObjectStoreSettings struct {
	ImageBucket string `toml:"image_bucket"`
}

func Load(filePath string, loggerInstance *logger.Logger) (*Config, error) {
	if filePath == "" {
		filePath = DefaultConfigFilename
	}

	configFile, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file '%s': %w", filePath, err)
	}
	defer func() {
		if closeErr := configFile.Close(); closeErr != nil && loggerInstance != nil {
			loggerInstance.Warnf("Failed to close config file: %v", closeErr)
		}
	}()

	configuration := Default()
	decoder := toml.NewDecoder(configFile)
	if err := decoder.Decode(&configuration); err != nil {
		return nil, fmt.Errorf("failed to decode TOML configuration: %w", err)
	}

	if err := configuration.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in '%s': %w", filePath, err)
	}

	return &configuration, nil
}

// Default returns the settings used for any key the file leaves out.
func Default() Config {
	return Config{
		Service: ServiceSettings{LogDir: "logs"},
		Enrichment: EnrichmentSettings{
			Provider:       ProviderGemini,
			TimeoutSeconds: 60,
			Temperature:    0.7,
			MaxTokens:      1024,
			Gemini:         ProviderSettings{APIKeyEnvironmentVariable: "GEMINI_API_KEY", Model: "gemini-2.5-flash"},
			OpenAI:         ProviderSettings{APIKeyEnvironmentVariable: "OPENAI_API_KEY", Model: "gpt-4o-mini"},
		},
		Image: ImageSettings{
			Provider:       ProviderGemini,
			AspectRatio:    "1:1",
			Count:          1,
			TimeoutSeconds: 180,
			Gemini:         ProviderSettings{APIKeyEnvironmentVariable: "GEMINI_API_KEY", Model: "imagen-4.0-generate-001"},
			OpenAI:         ProviderSettings{APIKeyEnvironmentVariable: "OPENAI_API_KEY", Model: "dall-e-3"},
		},
		Batch: BatchSettings{
			SegmentCount:               4,
			MaxSegmentCount:            16,
			InterItemDelayMilliseconds: 1500,
			SignalLiveOutput:           true,
			GridColumns:                2,
			CellSizePixels:             512,
		},
		NATS: NATSSettings{
			URL:        "nats://127.0.0.1:4222",
			DLQSubject: "plate.dlq",
			Consumer: ConsumerSettings{
				Stream:     "PLATE_REQUESTS",
				Subject:    "plate.requested",
				Durable:    "plate-generation-workers",
				MaxDeliver: 3,
			},
			Producer: ProducerSettings{
				Stream:            "PLATE_EVENTS",
				ItemReadySubject:  "plate.item.ready",
				ItemFailedSubject: "plate.item.failed",
				ProgressSubject:   "plate.progress",
				CompletedSubject:  "plate.completed",
			},
			ObjectStore: ObjectStoreSettings{ImageBucket: "PLATE_IMAGES"},
		},
	}
}

// Validate reports the first setting that would make the service misbehave.
func (c *Config) Validate() error {
	if c.Batch.SegmentCount < 1 {
		return ErrInvalidSegmentCount
	}

	if c.Batch.SegmentCount > c.Batch.MaxSegmentCount {
		return fmt.Errorf("%w: %d > %d", ErrSegmentCountAboveMax, c.Batch.SegmentCount, c.Batch.MaxSegmentCount)
	}

	if c.Batch.InterItemDelayMilliseconds < 0 {
		return ErrNegativeDelay
	}

	for _, provider := range []string{c.Enrichment.Provider, c.Image.Provider} {
		if !isKnownProvider(provider) {
			return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
		}
	}

	subjects := []struct {
		name  string
		value string
	}{
		{name: "nats.consumer.subject", value: c.NATS.Consumer.Subject},
		{name: "nats.producer.item_ready_subject", value: c.NATS.Producer.ItemReadySubject},
		{name: "nats.producer.completed_subject", value: c.NATS.Producer.CompletedSubject},
	}
	for _, subject := range subjects {
		if strings.TrimSpace(subject.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingSubject, subject.name)
		}
	}

	return nil
}

func isKnownProvider(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderGemini, ProviderOpenAI:
		return true
	default:
		return false
	}
}

// GetAPIKey resolves the secret held by the named environment variable.
func (c *Config) GetAPIKey(variable string) string {
	if variable == "" {
		return ""
	}

	return os.Getenv(variable)
}

func (c *Config) InterItemDelay() time.Duration {
	return time.Duration(c.Batch.InterItemDelayMilliseconds) * time.Millisecond
}
