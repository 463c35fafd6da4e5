/* DO EVERYTHING WITH LOVE, CARE, HONESTY, TRUTH, TRUST, KINDNESS, RELIABILITY, CONSISTENCY, DISCIPLINE, RESILIENCE, CRAFTSMANSHIP, HUMILITY, ALLIANCE, EXPLICITNESS */

package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/plate-generation-service/internal/batch"
	"github.com/book-expert/plate-generation-service/internal/events"
	"github.com/book-expert/plate-generation-service/internal/passage"
	"github.com/book-expert/plate-generation-service/internal/plate"
	"github.com/book-expert/plate-generation-service/internal/publisher"
	"github.com/book-expert/plate-generation-service/internal/segment"
	"github.com/book-expert/plate-generation-service/internal/worker"
)

const (
	// MessageProcessingTimeout defines the maximum duration allowed for one plate.
	MessageProcessingTimeout = 30 * time.Minute
)

var (
	// ErrEmptyPassage is returned when a request carries no usable text.
	ErrEmptyPassage = errors.New("plate request has no passage")
	// ErrPassageStoreMissing is returned when a request references a passage object
	// but no passage store is configured.
	ErrPassageStoreMissing = errors.New("passage object store not configured")
	// ErrTooManySegments is returned when a request asks for more segments than
	// the service allows per plate.
	ErrTooManySegments = errors.New("plate request asks for too many segments")
)

// Orchestrator is the batch surface the processor drives.
type Orchestrator interface {
	Start(ctx context.Context, request batch.Request) error
	Attach(consumer batch.LiveConsumer)
	CancelAll()
	Snapshot() batch.State
	Done() <-chan struct{}
}

// ObjectStore is the part of a JetStream object store the processor uses:
// item and plate images are written to it and passages may be read from it.
type ObjectStore interface {
	publisher.ObjectPutter
	GetBytes(ctx context.Context, name string, opts ...jetstream.GetObjectOpt) ([]byte, error)
}

// Settings configure every plate. SegmentCount applies when a request names
// none; MaxSegmentCount bounds what a request may ask for.
type Settings struct {
	Subjects        publisher.Subjects
	SegmentCount    int
	MaxSegmentCount int
	GridColumns     int
	CellSizePixels  int
}

// Processor turns one plate request into a delivered, composed plate.
type Processor struct {
	orchestrator Orchestrator
	publisher    publisher.JetStreamPublisher
	objectStore  ObjectStore
	cleaner      *passage.Cleaner
	logger       *logger.Logger
	current      *publisher.NatsConsumer
	settings     Settings
	mu           sync.Mutex
}

// NewProcessor creates a processor that drives orchestrator for each request.
func NewProcessor(
	orchestrator Orchestrator,
	jetStreamPublisher publisher.JetStreamPublisher,
	objectStore ObjectStore,
	settings Settings,
	serviceLogger *logger.Logger,
) *Processor {
	return &Processor{
		orchestrator: orchestrator,
		publisher:    jetStreamPublisher,
		objectStore:  objectStore,
		cleaner:      passage.NewCleaner(),
		logger:       serviceLogger,
		settings:     settings,
	}
}

// ReportProgress forwards batch progress to the plate being generated. It is
// meant to be wired as the orchestrator's progress hook.
func (p *Processor) ReportProgress(percent int) {
	p.mu.Lock()
	consumer := p.current
	p.mu.Unlock()

	if consumer != nil {
		consumer.PublishProgress(percent)
	}
}

// LiveOutputReady is the orchestrator's live-output hook.
func (p *Processor) LiveOutputReady() {
	p.logger.Infof("First plate item is ready, live output started")
}

// HandleMessage is the worker handler for plate requests.
func (p *Processor) HandleMessage(ctx context.Context, event *events.PlateRequestedEvent, _ jetstream.Msg) error {
	plateContext, cancel := context.WithTimeout(ctx, MessageProcessingTimeout)
	defer cancel()

	err := p.Generate(plateContext, event)
	if errors.Is(err, ErrEmptyPassage) || errors.Is(err, ErrTooManySegments) {
		return fmt.Errorf("%w: %w", worker.ErrPermanent, err)
	}

	return err
}

// Generate runs the full plate workflow: clean, segment, generate every item,
// compose the grid and publish the completion.
func (p *Processor) Generate(ctx context.Context, event *events.PlateRequestedEvent) error {
	count, err := p.segmentCount(event)
	if err != nil {
		return err
	}

	text, err := p.passageText(ctx, event)
	if err != nil {
		return err
	}

	plateID := event.PlateID
	if plateID == "" {
		plateID = uuid.NewString()
	}

	segments := segment.Split(text, count)
	p.logger.Infof("Processing plate %s (%s): %d segments", plateID, event.TreatiseCode, len(segments))

	consumer := publisher.NewNatsConsumer(ctx, p.publisher, p.objectStore, p.settings.Subjects, publisher.Plate{
		Source: event.Header,
		ID:     plateID,
		Total:  len(segments),
	}, p.logger)

	p.setCurrent(consumer)
	defer p.setCurrent(nil)

	if err := p.orchestrator.Start(ctx, batch.Request{TreatiseCode: event.TreatiseCode, Segments: segments}); err != nil {
		return fmt.Errorf("start plate %s: %w", plateID, err)
	}

	p.orchestrator.Attach(consumer)

	interrupted := p.wait(ctx)
	state := p.orchestrator.Snapshot()
	cancelled := !state.Finished()

	var composed []byte

	if !cancelled {
		composed, err = plate.Compose(consumer.Images(), p.settings.GridColumns, p.settings.CellSizePixels)
		if err != nil {
			p.logger.Errorf("Compose plate %s: %v", plateID, err)
		}
	}

	// The request context may be done at this point; completion still goes out.
	publishContext, cancelPublish := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancelPublish()

	if err := consumer.PublishCompleted(publishContext, composed, state.NextIndex, cancelled); err != nil {
		return fmt.Errorf("complete plate %s: %w", plateID, err)
	}

	if interrupted != nil {
		return fmt.Errorf("plate %s interrupted: %w", plateID, interrupted)
	}

	p.logger.Successf("Completed plate %s: %d/%d items", plateID, state.NextIndex, state.Total)

	return nil
}

// wait blocks until the batch ends. When ctx ends first the batch is
// cancelled and ctx's error returned.
func (p *Processor) wait(ctx context.Context) error {
	done := p.orchestrator.Done()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.orchestrator.CancelAll()
		<-done

		return fmt.Errorf("wait for batch: %w", ctx.Err())
	}
}

func (p *Processor) segmentCount(event *events.PlateRequestedEvent) (int, error) {
	count := event.SegmentCount
	if count < 1 {
		count = p.settings.SegmentCount
	}

	if p.settings.MaxSegmentCount > 0 && count > p.settings.MaxSegmentCount {
		return 0, fmt.Errorf("%w: %d requested, at most %d", ErrTooManySegments, count, p.settings.MaxSegmentCount)
	}

	return count, nil
}

func (p *Processor) passageText(ctx context.Context, event *events.PlateRequestedEvent) (string, error) {
	raw := event.Passage

	if strings.TrimSpace(raw) == "" && event.PassageKey != "" {
		if p.objectStore == nil {
			return "", ErrPassageStoreMissing
		}

		data, err := p.objectStore.GetBytes(ctx, event.PassageKey)
		if err != nil {
			return "", fmt.Errorf("download passage %s: %w", event.PassageKey, err)
		}

		raw = string(data)
	}

	text := p.cleaner.Clean(raw)
	if text == "" {
		return "", ErrEmptyPassage
	}

	return text, nil
}

func (p *Processor) setCurrent(consumer *publisher.NatsConsumer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = consumer
}
