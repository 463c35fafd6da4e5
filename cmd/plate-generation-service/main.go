/* DO EVERYTHING WITH LOVE, CARE, HONESTY, TRUTH, TRUST, KINDNESS, RELIABILITY, CONSISTENCY, DISCIPLINE, RESILIENCE, CRAFTSMANSHIP, HUMILITY, ALLIANCE, EXPLICITNESS */

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/plate-generation-service/internal/batch"
	"github.com/book-expert/plate-generation-service/internal/config"
	"github.com/book-expert/plate-generation-service/internal/enrichment"
	"github.com/book-expert/plate-generation-service/internal/events"
	"github.com/book-expert/plate-generation-service/internal/imagegen"
	"github.com/book-expert/plate-generation-service/internal/pipeline"
	"github.com/book-expert/plate-generation-service/internal/processor"
	"github.com/book-expert/plate-generation-service/internal/publisher"
	"github.com/book-expert/plate-generation-service/internal/worker"
)

const (
	natsConnectTimeout = 5 * time.Second
	natsReconnectWait  = 2 * time.Second
	setupTimeout       = 30 * time.Second
)

func main() {
	// A temporary logger for the bootstrap process
	log, err := logger.New(os.TempDir(), "plate-generation-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create bootstrap logger: %v\n", err)
		os.Exit(1)
	}

	// Secrets may come from a local .env; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("PLATE_CONFIG"), log)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	log, err = logger.New(cfg.Service.LogDir, "plate-generation-service.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create final logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorf("Service stopped with error: %v", err)
		os.Exit(1)
	}

	log.Infof("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	resolver, err := newResolver(ctx, cfg, log)
	if err != nil {
		return err
	}

	generator, err := newImageGenerator(ctx, cfg, log)
	if err != nil {
		return err
	}

	if !generator.Configured() {
		log.Warnf("Image provider %s has no API key; every item will fall back to a placeholder", generator.Name())
	}

	natsConn, err := nats.Connect(
		cfg.NATS.URL,
		nats.Timeout(natsConnectTimeout),
		nats.ReconnectWait(natsReconnectWait),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer natsConn.Close()

	log.Infof("Connected to NATS server at %s", cfg.NATS.URL)

	js, err := jetstream.New(natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	imageStore, err := ensureStreams(ctx, js, cfg, log)
	if err != nil {
		return err
	}

	coordinator := pipeline.NewCoordinator(resolver, generator, pipeline.Settings{
		AspectRatio: cfg.Image.AspectRatio,
		ImageCount:  cfg.Image.Count,
	}, log)

	var plateProcessor *processor.Processor

	orchestrator := batch.New(coordinator, batch.Options{
		OnLiveOutput: func() {
			plateProcessor.LiveOutputReady()
		},
		OnProgress: func(overall int) {
			plateProcessor.ReportProgress(overall)
		},
		InterItemDelay:   cfg.InterItemDelay(),
		PlaceholderSize:  cfg.Batch.CellSizePixels,
		SignalLiveOutput: cfg.Batch.SignalLiveOutput,
	}, log)

	plateProcessor = processor.NewProcessor(orchestrator, js, imageStore, processor.Settings{
		Subjects: publisher.Subjects{
			ItemReady:  cfg.NATS.Producer.ItemReadySubject,
			ItemFailed: cfg.NATS.Producer.ItemFailedSubject,
			Progress:   cfg.NATS.Producer.ProgressSubject,
			Completed:  cfg.NATS.Producer.CompletedSubject,
		},
		SegmentCount:    cfg.Batch.SegmentCount,
		MaxSegmentCount: cfg.Batch.MaxSegmentCount,
		GridColumns:     cfg.Batch.GridColumns,
		CellSizePixels:  cfg.Batch.CellSizePixels,
	}, log)

	requests := worker.New[events.PlateRequestedEvent](js, js, log, worker.Config{
		StreamName:        cfg.NATS.Consumer.Stream,
		ConsumerName:      cfg.NATS.Consumer.Durable,
		FilterSubject:     cfg.NATS.Consumer.Subject,
		DeadLetterSubject: cfg.NATS.DLQSubject,
		MaxDeliver:        cfg.NATS.Consumer.MaxDeliver,
	}, plateProcessor.HandleMessage)

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Infof("Starting plate request worker...")

		return requests.Start(groupContext)
	})

	err = group.Wait()

	log.Infof("Shutdown signal received, draining NATS connection...")

	if drainErr := natsConn.Drain(); drainErr != nil && !errors.Is(drainErr, nats.ErrConnectionClosed) {
		log.Warnf("Failed to drain NATS connection: %v", drainErr)
	}

	if err != nil {
		return fmt.Errorf("plate request worker: %w", err)
	}

	return nil
}

func newResolver(ctx context.Context, cfg *config.Config, log *logger.Logger) (*enrichment.Resolver, error) {
	settings := cfg.Enrichment

	gemini, err := enrichment.NewGeminiProvider(ctx, &enrichment.GenerationSettings{
		APIKey:            cfg.GetAPIKey(settings.Gemini.APIKeyEnvironmentVariable),
		BaseURL:           settings.Gemini.BaseURL,
		Model:             settings.Gemini.Model,
		SystemInstruction: settings.SystemInstruction,
		Temperature:       settings.Temperature,
		MaxTokens:         settings.MaxTokens,
		TimeoutSeconds:    settings.TimeoutSeconds,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create Gemini enrichment provider: %w", err)
	}

	openAI := enrichment.NewOpenAIProvider(&enrichment.GenerationSettings{
		APIKey:            cfg.GetAPIKey(settings.OpenAI.APIKeyEnvironmentVariable),
		BaseURL:           settings.OpenAI.BaseURL,
		Model:             settings.OpenAI.Model,
		SystemInstruction: settings.SystemInstruction,
		Temperature:       settings.Temperature,
		MaxTokens:         settings.MaxTokens,
		TimeoutSeconds:    settings.TimeoutSeconds,
	}, log)

	return enrichment.NewResolver(settings.Provider, log, gemini, openAI), nil
}

func newImageGenerator(ctx context.Context, cfg *config.Config, log *logger.Logger) (imagegen.Generator, error) {
	settings := cfg.Image

	if strings.EqualFold(strings.TrimSpace(settings.Provider), config.ProviderOpenAI) {
		return imagegen.NewOpenAIGenerator(&imagegen.OpenAIConfig{
			APIKey:         cfg.GetAPIKey(settings.OpenAI.APIKeyEnvironmentVariable),
			BaseURL:        settings.OpenAI.BaseURL,
			Model:          settings.OpenAI.Model,
			TimeoutSeconds: settings.TimeoutSeconds,
		}, log), nil
	}

	generator, err := imagegen.NewGeminiGenerator(ctx, &imagegen.GeminiConfig{
		APIKey:         cfg.GetAPIKey(settings.Gemini.APIKeyEnvironmentVariable),
		Model:          settings.Gemini.Model,
		TimeoutSeconds: settings.TimeoutSeconds,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create Gemini image generator: %w", err)
	}

	return generator, nil
}

// ensureStreams creates the request and event streams and the image bucket.
func ensureStreams(
	ctx context.Context,
	js jetstream.JetStream,
	cfg *config.Config,
	log *logger.Logger,
) (jetstream.ObjectStore, error) {
	setupContext, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	streams := []jetstream.StreamConfig{
		{
			Name:     cfg.NATS.Consumer.Stream,
			Subjects: nonEmpty(cfg.NATS.Consumer.Subject),
		},
		{
			Name: cfg.NATS.Producer.Stream,
			Subjects: nonEmpty(
				cfg.NATS.Producer.ItemReadySubject,
				cfg.NATS.Producer.ItemFailedSubject,
				cfg.NATS.Producer.ProgressSubject,
				cfg.NATS.Producer.CompletedSubject,
				cfg.NATS.DLQSubject,
			),
		},
	}

	for _, stream := range streams {
		if _, err := js.CreateOrUpdateStream(setupContext, stream); err != nil {
			return nil, fmt.Errorf("create stream %s: %w", stream.Name, err)
		}

		log.Infof("Stream '%s' ready for %s", stream.Name, strings.Join(stream.Subjects, ", "))
	}

	store, err := js.CreateOrUpdateObjectStore(setupContext, jetstream.ObjectStoreConfig{
		Bucket:      cfg.NATS.ObjectStore.ImageBucket,
		Description: "Plate item and plate images",
	})
	if err != nil {
		return nil, fmt.Errorf("create object store %s: %w", cfg.NATS.ObjectStore.ImageBucket, err)
	}

	log.Infof("Object store '%s' ready", cfg.NATS.ObjectStore.ImageBucket)

	return store, nil
}

func nonEmpty(subjects ...string) []string {
	kept := make([]string, 0, len(subjects))

	for _, subject := range subjects {
		if strings.TrimSpace(subject) != "" {
			kept = append(kept, subject)
		}
	}

	return kept
}
