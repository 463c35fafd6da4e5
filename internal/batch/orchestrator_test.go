package batch_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/plate-generation-service/internal/batch"
	"github.com/book-expert/plate-generation-service/internal/enrichment"
	"github.com/book-expert/plate-generation-service/internal/imagegen"
	"github.com/book-expert/plate-generation-service/internal/pipeline"
)

const waitTimeout = 3 * time.Second

var errRenderFailed = errors.New("render failed")

// scriptedGenerator renders the segment text into the image bytes. Segments
// containing FAIL error out, segments with a registered gate wait on it.
type scriptedGenerator struct {
	gates map[string]chan struct{}
	mu    sync.Mutex
	calls []string
}

func (g *scriptedGenerator) Generate(
	_ context.Context,
	prompt, _ string,
	_ int,
	onProgress imagegen.ProgressFunc,
) (imagegen.Image, error) {
	g.mu.Lock()
	g.calls = append(g.calls, prompt)
	g.mu.Unlock()

	for marker, gate := range g.gates {
		if strings.Contains(prompt, marker) {
			<-gate
		}
	}

	onProgress(50)

	if strings.Contains(prompt, "FAIL") {
		return imagegen.Image{}, errRenderFailed
	}

	return imagegen.Image{Data: []byte(prompt), MIMEType: imagegen.DefaultMIMEType}, nil
}

func (g *scriptedGenerator) Configured() bool { return true }
func (g *scriptedGenerator) Name() string     { return "scripted" }

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.calls)
}

type event struct {
	kind  string
	index int
	image imagegen.Image
	text  string
}

type recordingConsumer struct {
	mu     sync.Mutex
	events []event
}

func (c *recordingConsumer) ItemReady(index int, image imagegen.Image, text string) {
	c.record(event{kind: "ready", index: index, image: image, text: text})
}

func (c *recordingConsumer) ItemFailed(index int, reason string) {
	c.record(event{kind: "failed", index: index, text: reason})
}

func (c *recordingConsumer) AllItemsDelivered() {
	c.record(event{kind: "all", index: -1})
}

func (c *recordingConsumer) record(e event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, e)
}

func (c *recordingConsumer) snapshot() []event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]event(nil), c.events...)
}

func (c *recordingConsumer) sequence() []string {
	var labels []string

	for _, e := range c.snapshot() {
		if e.kind == "all" {
			labels = append(labels, "all")

			continue
		}

		labels = append(labels, fmt.Sprintf("%s:%d", e.kind, e.index))
	}

	return labels
}

func (c *recordingConsumer) readyCount() int {
	count := 0

	for _, e := range c.snapshot() {
		if e.kind == "ready" {
			count++
		}
	}

	return count
}

type fixture struct {
	orchestrator *batch.Orchestrator
	generator    *scriptedGenerator
	progressMu   sync.Mutex
	progress     []int
	liveSignals  int
}

func newFixture(t *testing.T, delay time.Duration, gates map[string]chan struct{}) *fixture {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	generator := &scriptedGenerator{gates: gates}
	resolver := enrichment.NewResolver("gemini", log)
	coordinator := pipeline.NewCoordinator(resolver, generator, pipeline.Settings{}, log)

	f := &fixture{generator: generator}
	f.orchestrator = batch.New(coordinator, batch.Options{
		InterItemDelay:   delay,
		PlaceholderSize:  8,
		SignalLiveOutput: true,
		OnLiveOutput: func() {
			f.progressMu.Lock()
			defer f.progressMu.Unlock()
			f.liveSignals++
		},
		OnProgress: func(overall int) {
			f.progressMu.Lock()
			defer f.progressMu.Unlock()
			f.progress = append(f.progress, overall)
		},
	}, log)

	return f
}

func (f *fixture) progressValues() ([]int, int) {
	f.progressMu.Lock()
	defer f.progressMu.Unlock()

	return append([]int(nil), f.progress...), f.liveSignals
}

func waitBatch(t *testing.T, orchestrator *batch.Orchestrator) {
	t.Helper()

	select {
	case <-orchestrator.Done():
	case <-time.After(waitTimeout):
		t.Fatal("batch did not finish")
	}
}

func waitReady(t *testing.T, consumer *recordingConsumer, count int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return consumer.readyCount() >= count
	}, waitTimeout, 5*time.Millisecond)
}

func segments() []string {
	return []string{"Segment zero.", "Segment one.", "Segment two FAIL.", "Segment three."}
}

func TestOrchestrator_DeliversEveryItemDespiteFailure(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	f := newFixture(t, time.Millisecond, map[string]chan struct{}{"zero": gate})

	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: segments()}))

	consumer := &recordingConsumer{}
	f.orchestrator.Attach(consumer)
	close(gate)
	waitBatch(t, f.orchestrator)

	state := f.orchestrator.Snapshot()
	assert.Equal(t, 4, state.NextIndex)
	assert.Equal(t, 4, state.Total)
	assert.False(t, state.Generating)
	assert.True(t, state.Finished())

	assert.Equal(t,
		[]string{"ready:0", "ready:1", "failed:2", "ready:2", "ready:3", "all"},
		consumer.sequence(),
	)

	events := consumer.snapshot()
	placeholder := events[3].image
	assert.True(t, placeholder.Placeholder)
	assert.NotEmpty(t, placeholder.Data)
	assert.Equal(t, "Segment two FAIL.", events[3].text)
	assert.Contains(t, events[2].text, errRenderFailed.Error())

	assert.True(t, state.Segments[2].Failed)
	assert.True(t, state.Segments[2].Ready)
	assert.False(t, state.Segments[3].Failed)

	progress, liveSignals := f.progressValues()
	assert.Equal(t, 1, liveSignals)
	assert.IsIncreasing(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
}

func TestOrchestrator_StartRejections(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	f := newFixture(t, 0, map[string]chan struct{}{"zero": gate})

	require.ErrorIs(t, f.orchestrator.Start(context.Background(), batch.Request{}), batch.ErrNoSegments)
	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: segments()}))
	require.ErrorIs(t,
		f.orchestrator.Start(context.Background(), batch.Request{Segments: segments()}),
		batch.ErrBatchInProgress,
	)

	close(gate)
	waitBatch(t, f.orchestrator)

	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: []string{"Again."}}))
	waitBatch(t, f.orchestrator)
	assert.Equal(t, 1, f.orchestrator.Snapshot().Total)
}

func TestOrchestrator_PauseHoldsNextItemUntilResume(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	f := newFixture(t, 0, map[string]chan struct{}{"zero": gate})

	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: segments()}))

	consumer := &recordingConsumer{}
	f.orchestrator.Attach(consumer)
	f.orchestrator.Pause()
	assert.True(t, f.orchestrator.Snapshot().Paused)

	close(gate)
	waitReady(t, consumer, 1)

	assert.Never(t, func() bool {
		return f.generator.callCount() > 1
	}, 100*time.Millisecond, 10*time.Millisecond)

	state := f.orchestrator.Snapshot()
	assert.Equal(t, 1, state.NextIndex)
	assert.True(t, state.Generating)

	f.orchestrator.Resume()
	waitBatch(t, f.orchestrator)

	assert.Equal(t, 4, f.orchestrator.Snapshot().NextIndex)
	assert.Equal(t, 4, f.generator.callCount())
}

func TestOrchestrator_ResumeDuringPendingDelayStartsOnce(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	f := newFixture(t, 50*time.Millisecond, map[string]chan struct{}{"zero": gate})

	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: segments()}))

	consumer := &recordingConsumer{}
	f.orchestrator.Attach(consumer)
	close(gate)
	waitReady(t, consumer, 1)

	f.orchestrator.Pause()
	f.orchestrator.Resume()
	waitBatch(t, f.orchestrator)

	assert.Equal(t, 4, f.generator.callCount())
	assert.Equal(t, 4, consumer.readyCount())
}

func TestOrchestrator_CancelAllStopsRemainingItems(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	f := newFixture(t, 0, map[string]chan struct{}{"one": gate})

	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: segments()}))

	consumer := &recordingConsumer{}
	f.orchestrator.Attach(consumer)

	waitReady(t, consumer, 1)
	require.Eventually(t, func() bool {
		return f.generator.callCount() == 2
	}, waitTimeout, 5*time.Millisecond)

	f.orchestrator.CancelAll()
	f.orchestrator.CancelAll()
	waitBatch(t, f.orchestrator)

	state := f.orchestrator.Snapshot()
	assert.False(t, state.Generating)
	assert.Equal(t, 1, state.NextIndex)
	assert.False(t, state.Segments[1].Ready)

	close(gate)

	assert.Never(t, func() bool {
		return len(consumer.snapshot()) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []string{"ready:0"}, consumer.sequence())
	assert.Equal(t, 2, f.generator.callCount())

	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: []string{"Fresh start."}}))
	waitBatch(t, f.orchestrator)
}

func TestOrchestrator_LateAttachReplaysReadyItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)

	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: segments()}))
	waitBatch(t, f.orchestrator)

	late := &recordingConsumer{}
	f.orchestrator.Attach(late)

	assert.Equal(t, []string{"ready:0", "ready:1", "ready:2", "ready:3", "all"}, late.sequence())
	assert.True(t, late.snapshot()[2].image.Placeholder)
}

func TestOrchestrator_AttachBeforeFirstStartFollowsBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)

	early := &recordingConsumer{}
	f.orchestrator.Attach(early)
	assert.Empty(t, early.sequence())

	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: []string{"One.", "Two."}}))
	waitBatch(t, f.orchestrator)

	assert.Equal(t, []string{"ready:0", "ready:1", "all"}, early.sequence())

	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: []string{"Three."}}))
	waitBatch(t, f.orchestrator)

	assert.Equal(t, []string{"ready:0", "ready:1", "all"}, early.sequence())
}

func TestOrchestrator_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)

	require.NoError(t, f.orchestrator.Start(context.Background(), batch.Request{Segments: []string{"Only."}}))
	waitBatch(t, f.orchestrator)

	snapshot := f.orchestrator.Snapshot()
	snapshot.Segments[0].Text = "changed"

	assert.Equal(t, "Only.", f.orchestrator.Snapshot().Segments[0].Text)
}
