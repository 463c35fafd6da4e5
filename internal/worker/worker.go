// Package worker pulls JSON jobs from a JetStream consumer and hands them to
// a typed handler, one message at a time.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// DefaultFetchMaxWait bounds one fetch when no message is available.
	DefaultFetchMaxWait = 5 * time.Second
	// DefaultNakDelay spaces redeliveries of a failed job.
	DefaultNakDelay = 10 * time.Second
)

// ErrPermanent marks a handler failure that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

// ConsumerCreator is the part of jetstream.JetStream the worker needs.
type ConsumerCreator interface {
	CreateOrUpdateConsumer(ctx context.Context, stream string, config jetstream.ConsumerConfig) (jetstream.Consumer, error)
}

// DeadLetterPublisher receives messages the worker gives up on.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Handler processes one decoded job. Returning an error asks for redelivery
// unless it wraps ErrPermanent or the delivery budget is spent.
type Handler[T any] func(ctx context.Context, event *T, message jetstream.Msg) error

// Config names the durable consumer and its redelivery policy. Zero
// FetchMaxWait and NakDelay fall back to the package defaults.
type Config struct {
	StreamName        string
	ConsumerName      string
	FilterSubject     string
	DeadLetterSubject string
	MaxDeliver        int
	FetchMaxWait      time.Duration
	NakDelay          time.Duration
}

// Worker is a single-flight pull consumer.
type Worker[T any] struct {
	consumers  ConsumerCreator
	deadLetter DeadLetterPublisher
	handler    Handler[T]
	logger     *logger.Logger
	config     Config
}

// New creates a worker that decodes each message as T and passes it to handler.
func New[T any](
	consumers ConsumerCreator,
	deadLetter DeadLetterPublisher,
	log *logger.Logger,
	config Config,
	handler Handler[T],
) *Worker[T] {
	if config.FetchMaxWait <= 0 {
		config.FetchMaxWait = DefaultFetchMaxWait
	}

	if config.NakDelay <= 0 {
		config.NakDelay = DefaultNakDelay
	}

	return &Worker[T]{
		consumers:  consumers,
		deadLetter: deadLetter,
		handler:    handler,
		logger:     log,
		config:     config,
	}
}

// Start creates the durable consumer and processes jobs until ctx ends.
func (w *Worker[T]) Start(ctx context.Context) error {
	consumer, err := w.consumers.CreateOrUpdateConsumer(ctx, w.config.StreamName, jetstream.ConsumerConfig{
		Durable:       w.config.ConsumerName,
		FilterSubject: w.config.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    w.config.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s on %s: %w", w.config.ConsumerName, w.config.StreamName, err)
	}

	w.logger.Infof("Consumer '%s' is ready, listening on '%s'", w.config.ConsumerName, w.config.FilterSubject)

	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("Context canceled, worker shutting down")

			return nil
		default:
		}

		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(w.config.FetchMaxWait))
		if err != nil {
			if !errors.Is(err, nats.ErrTimeout) {
				w.logger.Errorf("Fetch messages: %v", err)
			}

			continue
		}

		for message := range batch.Messages() {
			w.handle(ctx, message)
		}

		if batchErr := batch.Error(); batchErr != nil && !errors.Is(batchErr, nats.ErrTimeout) {
			w.logger.Errorf("Fetch batch: %v", batchErr)
		}
	}
}

func (w *Worker[T]) handle(ctx context.Context, message jetstream.Msg) {
	var event T

	if err := json.Unmarshal(message.Data(), &event); err != nil {
		w.deadLetterAndAck(ctx, message, fmt.Errorf("decode job: %w", err))

		return
	}

	handlerErr := w.handler(ctx, &event, message)
	if handlerErr == nil {
		if err := message.Ack(); err != nil {
			w.logger.Errorf("Failed to acknowledge message: %v", err)
		}

		return
	}

	if errors.Is(handlerErr, ErrPermanent) || w.deliveryBudgetSpent(message) {
		w.deadLetterAndAck(ctx, message, handlerErr)

		return
	}

	w.logger.Warnf("Job failed, requesting redelivery: %v", handlerErr)

	if err := message.NakWithDelay(w.config.NakDelay); err != nil {
		w.logger.Errorf("Failed to nak message: %v", err)
	}
}

func (w *Worker[T]) deliveryBudgetSpent(message jetstream.Msg) bool {
	if w.config.MaxDeliver <= 0 {
		return false
	}

	metadata, err := message.Metadata()
	if err != nil {
		return true
	}

	return metadata.NumDelivered >= uint64(w.config.MaxDeliver)
}

func (w *Worker[T]) deadLetterAndAck(ctx context.Context, message jetstream.Msg, reason error) {
	w.logger.Errorf("Discarding job: %v", reason)

	if w.config.DeadLetterSubject != "" && w.deadLetter != nil {
		if _, err := w.deadLetter.Publish(ctx, w.config.DeadLetterSubject, message.Data()); err != nil {
			w.logger.Errorf("Failed to publish to dead-letter subject %s: %v", w.config.DeadLetterSubject, err)
		}
	}

	if err := message.Ack(); err != nil {
		w.logger.Errorf("Failed to acknowledge message: %v", err)
	}
}
