package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/plate-generation-service/internal/worker"
)

var (
	errTransient     = errors.New("transient failure")
	errStreamMissing = errors.New("stream not found")
)

type job struct {
	Name string `json:"Name"`
}

// fakeMsg embeds jetstream.Msg so only the methods the worker uses exist.
type fakeMsg struct {
	jetstream.Msg
	data         []byte
	numDelivered uint64
	mu           sync.Mutex
	acked        bool
	nakked       bool
}

func (m *fakeMsg) Data() []byte { return m.data }

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true

	return nil
}

func (m *fakeMsg) NakWithDelay(time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nakked = true

	return nil
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.numDelivered}, nil
}

func (m *fakeMsg) settled() (acked, nakked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.acked, m.nakked
}

type fakeBatch struct {
	jetstream.MessageBatch
	messages chan jetstream.Msg
}

func (b *fakeBatch) Messages() <-chan jetstream.Msg { return b.messages }
func (b *fakeBatch) Error() error                   { return nil }

type fakeConsumer struct {
	jetstream.Consumer
	mu      sync.Mutex
	pending []*fakeMsg
}

func (c *fakeConsumer) Fetch(int, ...jetstream.FetchOpt) (jetstream.MessageBatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := &fakeBatch{messages: make(chan jetstream.Msg, 1)}

	if len(c.pending) > 0 {
		batch.messages <- c.pending[0]
		c.pending = c.pending[1:]
	} else {
		time.Sleep(time.Millisecond)
	}

	close(batch.messages)

	return batch, nil
}

type fakeJetStream struct {
	consumer *fakeConsumer
	err      error
	config   jetstream.ConsumerConfig
}

func (f *fakeJetStream) CreateOrUpdateConsumer(
	_ context.Context,
	_ string,
	config jetstream.ConsumerConfig,
) (jetstream.Consumer, error) {
	f.config = config

	if f.err != nil {
		return nil, f.err
	}

	return f.consumer, nil
}

type fakeDeadLetter struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeDeadLetter) Publish(
	_ context.Context,
	subject string,
	_ []byte,
	_ ...jetstream.PublishOpt,
) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)

	return &jetstream.PubAck{}, nil
}

func (f *fakeDeadLetter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.subjects)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func message(payload string, delivered uint64) *fakeMsg {
	return &fakeMsg{data: []byte(payload), numDelivered: delivered}
}

func TestWorker_SettlesEveryMessage(t *testing.T) {
	t.Parallel()

	good := message(`{"Name": "ok"}`, 1)
	broken := message(`not json`, 1)
	retry := message(`{"Name": "retry"}`, 1)
	exhausted := message(`{"Name": "retry"}`, 3)
	permanent := message(`{"Name": "permanent"}`, 1)

	consumer := &fakeConsumer{pending: []*fakeMsg{good, broken, retry, exhausted, permanent}}
	js := &fakeJetStream{consumer: consumer}
	deadLetter := &fakeDeadLetter{}

	var (
		mu      sync.Mutex
		handled []string
	)

	w := worker.New(js, deadLetter, newTestLogger(t), worker.Config{
		StreamName:        "PLATE_REQUESTS",
		ConsumerName:      "plate-workers",
		FilterSubject:     "plate.requested",
		DeadLetterSubject: "plate.dlq",
		MaxDeliver:        3,
		FetchMaxWait:      10 * time.Millisecond,
	}, func(_ context.Context, event *job, _ jetstream.Msg) error {
		mu.Lock()
		handled = append(handled, event.Name)
		mu.Unlock()

		switch event.Name {
		case "retry":
			return errTransient
		case "permanent":
			return fmt.Errorf("bad request: %w", worker.ErrPermanent)
		default:
			return nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		acked, _ := permanent.settled()

		return acked
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	acked, nakked := good.settled()
	assert.True(t, acked)
	assert.False(t, nakked)

	acked, _ = broken.settled()
	assert.True(t, acked)

	acked, nakked = retry.settled()
	assert.False(t, acked)
	assert.True(t, nakked)

	acked, _ = exhausted.settled()
	assert.True(t, acked)

	assert.Equal(t, 3, deadLetter.count())
	assert.Equal(t, []string{"ok", "retry", "retry", "permanent"}, handled)

	assert.Equal(t, "plate-workers", js.config.Durable)
	assert.Equal(t, "plate.requested", js.config.FilterSubject)
	assert.Equal(t, jetstream.AckExplicitPolicy, js.config.AckPolicy)
}

func TestWorker_StartFailsWithoutConsumer(t *testing.T) {
	t.Parallel()

	w := worker.New(&fakeJetStream{err: errStreamMissing}, nil, newTestLogger(t), worker.Config{},
		func(context.Context, *job, jetstream.Msg) error { return nil })

	err := w.Start(context.Background())
	require.ErrorIs(t, err, errStreamMissing)
}
