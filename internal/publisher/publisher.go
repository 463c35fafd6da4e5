// Package publisher streams plate items to NATS: images go to the object
// store, item and progress events go to JetStream subjects.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/plate-generation-service/internal/events"
	"github.com/book-expert/plate-generation-service/internal/imagegen"
)

// JetStreamPublisher defines the interface for publishing messages to JetStream.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ObjectPutter is the write side of a JetStream object store.
type ObjectPutter interface {
	Put(ctx context.Context, meta jetstream.ObjectMeta, reader io.Reader) (*jetstream.ObjectInfo, error)
}

// Subjects are the JetStream subjects one plate publishes on.
type Subjects struct {
	ItemReady  string
	ItemFailed string
	Progress   string
	Completed  string
}

// Plate identifies the plate a consumer publishes for.
type Plate struct {
	Source events.EventHeader
	ID     string
	Total  int
}

// NatsConsumer receives batch items for one plate and publishes them.
// Publishing errors are logged; they never stop the batch.
type NatsConsumer struct {
	ctx       context.Context
	publisher JetStreamPublisher
	store     ObjectPutter
	logger    *logger.Logger
	allItems  chan struct{}
	closeOnce sync.Once
	subjects  Subjects
	plate     Plate
	mu        sync.Mutex
	images    [][]byte
	failed    []int
}

func NewNatsConsumer(
	ctx context.Context,
	publisher JetStreamPublisher,
	store ObjectPutter,
	subjects Subjects,
	plate Plate,
	log *logger.Logger,
) *NatsConsumer {
	return &NatsConsumer{
		ctx:       ctx,
		publisher: publisher,
		store:     store,
		logger:    log,
		allItems:  make(chan struct{}),
		subjects:  subjects,
		plate:     plate,
		images:    make([][]byte, plate.Total),
	}
}

func (c *NatsConsumer) ItemReady(index int, image imagegen.Image, text string) {
	key := ItemKey(c.plate.ID, index, image.MIMEType)

	if err := c.putObject(key, fmt.Sprintf("Plate %s item %d", c.plate.ID, index), image.Data); err != nil {
		c.logger.Errorf("Store item %d of plate %s: %v", index, c.plate.ID, err)
	}

	c.mu.Lock()
	if index >= 0 && index < len(c.images) {
		c.images[index] = image.Data
	}
	c.mu.Unlock()

	c.publish(c.subjects.ItemReady, events.PlateItemReadyEvent{
		Header:      events.NewHeader(c.plate.Source),
		PlateID:     c.plate.ID,
		Index:       index,
		Total:       c.plate.Total,
		Text:        text,
		ImageKey:    key,
		MIMEType:    image.MIMEType,
		Placeholder: image.Placeholder,
	})
}

func (c *NatsConsumer) ItemFailed(index int, reason string) {
	c.mu.Lock()
	c.failed = append(c.failed, index)
	c.mu.Unlock()

	c.publish(c.subjects.ItemFailed, events.PlateItemFailedEvent{
		Header:  events.NewHeader(c.plate.Source),
		PlateID: c.plate.ID,
		Index:   index,
		Reason:  reason,
	})
}

func (c *NatsConsumer) AllItemsDelivered() {
	c.closeOnce.Do(func() {
		close(c.allItems)
	})
}

// Delivered is closed once every item of the plate was received.
func (c *NatsConsumer) Delivered() <-chan struct{} {
	return c.allItems
}

// PublishProgress sends the plate aggregate progress.
func (c *NatsConsumer) PublishProgress(percent int) {
	if c.subjects.Progress == "" {
		return
	}

	c.publish(c.subjects.Progress, events.PlateProgressEvent{
		Header:  events.NewHeader(c.plate.Source),
		PlateID: c.plate.ID,
		Percent: percent,
	})
}

// Images returns the received image bytes by index; missing items are nil.
func (c *NatsConsumer) Images() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([][]byte(nil), c.images...)
}

// PublishCompleted stores the composed plate, when given, and announces the
// end of the plate.
func (c *NatsConsumer) PublishCompleted(ctx context.Context, plateImage []byte, delivered int, cancelled bool) error {
	var plateKey string

	if len(plateImage) > 0 {
		plateKey = PlateKey(c.plate.ID)

		if err := c.putObject(plateKey, fmt.Sprintf("Plate %s", c.plate.ID), plateImage); err != nil {
			return fmt.Errorf("store plate %s: %w", c.plate.ID, err)
		}
	}

	c.mu.Lock()
	failed := append([]int(nil), c.failed...)
	c.mu.Unlock()

	data, err := json.Marshal(events.PlateCompletedEvent{
		Header:        events.NewHeader(c.plate.Source),
		PlateID:       c.plate.ID,
		PlateKey:      plateKey,
		Delivered:     delivered,
		Total:         c.plate.Total,
		FailedIndexes: failed,
		Cancelled:     cancelled,
	})
	if err != nil {
		return fmt.Errorf("marshal completed event: %w", err)
	}

	if _, err := c.publisher.Publish(ctx, c.subjects.Completed, data); err != nil {
		return fmt.Errorf("publish completed event: %w", err)
	}

	return nil
}

func (c *NatsConsumer) putObject(key, description string, data []byte) error {
	if c.store == nil || len(data) == 0 {
		return nil
	}

	_, err := c.store.Put(c.ctx, jetstream.ObjectMeta{
		Name:        key,
		Description: description,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	return nil
}

func (c *NatsConsumer) publish(subject string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Errorf("Marshal event for %s: %v", subject, err)

		return
	}

	if _, err := c.publisher.Publish(c.ctx, subject, data); err != nil {
		c.logger.Errorf("Publish to %s: %v", subject, err)
	}
}

// ItemKey names the object holding one item image.
func ItemKey(plateID string, index int, mimeType string) string {
	return fmt.Sprintf("%s/item-%02d%s", plateID, index, extension(mimeType))
}

// PlateKey names the object holding the composed plate.
func PlateKey(plateID string) string {
	return plateID + "/plate.png"
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
