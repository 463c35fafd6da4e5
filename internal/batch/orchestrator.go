// Package batch drives the ordered runs of one plate, one segment at a time,
// and streams each finished item to live consumers.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/plate-generation-service/internal/imagegen"
	"github.com/book-expert/plate-generation-service/internal/pipeline"
	"github.com/book-expert/plate-generation-service/internal/plate"
)

var (
	// ErrBatchInProgress is returned by Start while a batch is generating.
	ErrBatchInProgress = errors.New("a batch is already generating")
	// ErrNoSegments is returned by Start for an empty request.
	ErrNoSegments = errors.New("batch request has no segments")
)

const defaultPlaceholderSize = 512

// RunStarter admits one pipeline run at a time. pipeline.Coordinator
// satisfies it.
type RunStarter interface {
	Start(ctx context.Context, pipelineContext *pipeline.Context, hooks pipeline.Hooks) (*pipeline.Run, error)
}

// LiveConsumer receives items as they become ready. ItemFailed is
// informational and always precedes the ItemReady carrying the placeholder.
// Callbacks are serialized and must not call Attach.
type LiveConsumer interface {
	ItemReady(index int, image imagegen.Image, text string)
	ItemFailed(index int, reason string)
	AllItemsDelivered()
}

// Request is the ordered segment text of one plate.
type Request struct {
	TreatiseCode string
	Segments     []string
}

// Options tune a batch. Zero values disable the hooks and the delay.
type Options struct {
	// OnLiveOutput fires once per batch when the first item is ready.
	OnLiveOutput func()
	// OnProgress receives the batch aggregate in percent.
	OnProgress       func(overall int)
	InterItemDelay   time.Duration
	PlaceholderSize  int
	SignalLiveOutput bool
}

// Orchestrator owns the batch state. All methods are safe for concurrent use.
type Orchestrator struct {
	runs        RunStarter
	logger      *logger.Logger
	ctx         context.Context
	active      *pipeline.Run
	timer       *time.Timer
	done        chan struct{}
	finish      func()
	consumers   []LiveConsumer
	placeholder imagegen.Image
	options     Options
	state       State
	treatise    string
	epoch       int
	overall     int
	liveSent    bool
	// deliverMu orders consumer callbacks; mu guards the fields above.
	deliverMu sync.Mutex
	mu        sync.Mutex
}

// New creates an idle orchestrator that starts its runs through runs.
func New(runs RunStarter, options Options, log *logger.Logger) *Orchestrator {
	if options.PlaceholderSize < 1 {
		options.PlaceholderSize = defaultPlaceholderSize
	}

	data, err := plate.Placeholder(options.PlaceholderSize)
	if err != nil {
		log.Errorf("Failed to render placeholder image: %v", err)
	}

	done := make(chan struct{})
	close(done)

	return &Orchestrator{
		runs:        runs,
		logger:      log,
		ctx:         context.Background(),
		done:        done,
		finish:      func() {},
		placeholder: imagegen.Image{Data: data, MIMEType: imagegen.DefaultMIMEType, Placeholder: true},
		options:     options,
	}
}

// Start resets the batch to request and starts segment 0. Consumers attached
// to a previous batch are dropped; consumers attached before the first batch
// are kept and receive it.
func (o *Orchestrator) Start(ctx context.Context, request Request) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Generating {
		o.logger.Warnf("Rejected batch start: %v", ErrBatchInProgress)

		return ErrBatchInProgress
	}

	if len(request.Segments) == 0 {
		return ErrNoSegments
	}

	segments := make([]Segment, len(request.Segments))
	for index, text := range request.Segments {
		segments[index] = Segment{Index: index, Text: text}
	}

	o.epoch++
	o.ctx = ctx
	o.treatise = request.TreatiseCode

	if o.state.Total > 0 {
		o.consumers = nil
	}

	o.state = State{Segments: segments, Total: len(segments), Generating: true}
	o.liveSent = false
	o.overall = 0
	o.done = make(chan struct{})
	o.finish = sync.OnceFunc(closer(o.done))

	o.logger.Infof("Starting batch of %d segments", len(segments))
	o.launchLocked()

	return nil
}

// Pause suppresses the next start. The active run is left alone.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Generating && !o.state.Paused {
		o.state.Paused = true
		o.logger.Infof("Batch paused at segment %d/%d", o.state.NextIndex, o.state.Total)
	}
}

// Resume clears the pause. With no run active and no delayed start pending
// the next segment starts immediately.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.state.Paused {
		return
	}

	o.state.Paused = false
	o.logger.Infof("Batch resumed at segment %d/%d", o.state.NextIndex, o.state.Total)

	if o.state.Generating && o.active == nil && o.timer == nil && o.state.NextIndex < o.state.Total {
		o.launchLocked()
	}
}

// CancelAll stops the batch where it stands. Remaining segments stay
// unstarted and AllItemsDelivered is not sent.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()

	if !o.state.Generating {
		o.mu.Unlock()

		return
	}

	o.epoch++
	o.state.Generating = false
	o.state.Paused = false

	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}

	run := o.active
	o.active = nil
	finish := o.finish
	o.logger.Warnf("Batch cancelled at segment %d/%d", o.state.NextIndex, o.state.Total)
	o.mu.Unlock()

	if run != nil {
		run.Cancel()
	}

	finish()
}

// Attach replays every ready item to consumer, then AllItemsDelivered if the
// batch already finished, and streams later items to it. Attached before the
// first Start, the consumer follows that first batch; attached between batches
// it belongs to the finished one and is dropped by the next Start.
func (o *Orchestrator) Attach(consumer LiveConsumer) {
	o.deliverMu.Lock()
	defer o.deliverMu.Unlock()

	o.mu.Lock()
	o.consumers = append(o.consumers, consumer)
	ready := make([]Segment, 0, o.state.NextIndex)

	for _, segment := range o.state.Segments {
		if segment.Ready {
			ready = append(ready, segment)
		}
	}

	finished := o.state.Finished()
	o.mu.Unlock()

	for _, segment := range ready {
		consumer.ItemReady(segment.Index, segment.Image, segment.Text)
	}

	if finished {
		consumer.AllItemsDelivered()
	}
}

// Snapshot returns a copy of the batch state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state.clone()
}

// Done is closed when the current batch delivered every item or was cancelled.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.done
}

// launchLocked starts Segments[NextIndex]. Caller holds mu.
func (o *Orchestrator) launchLocked() {
	index := o.state.NextIndex
	epoch := o.epoch
	input := pipeline.NewContext(o.state.Segments[index].Text, o.treatise)

	hooks := pipeline.Hooks{
		OnProgress: func(percent int) {
			o.itemProgress(epoch, index, percent)
		},
		OnCompleted: func(result pipeline.Result) {
			o.itemFinished(epoch, index, result)
		},
		OnFailed: func(result pipeline.Result) {
			o.itemFinished(epoch, index, result)
		},
	}

	run, err := o.runs.Start(o.ctx, input, hooks)
	if err != nil {
		o.logger.Errorf("Failed to start segment %d: %v", index, err)

		go o.itemFinished(epoch, index, pipeline.Result{ErrorMessage: err.Error()})

		return
	}

	o.active = run
	o.logger.Infof("Generating segment %d/%d", index+1, o.state.Total)
}

func (o *Orchestrator) scheduleLocked() {
	epoch := o.epoch

	o.timer = time.AfterFunc(o.options.InterItemDelay, func() {
		o.mu.Lock()
		defer o.mu.Unlock()

		if epoch != o.epoch || !o.state.Generating {
			return
		}

		o.timer = nil

		if o.state.Paused || o.active != nil || o.state.NextIndex >= o.state.Total {
			return
		}

		o.launchLocked()
	})
}

func (o *Orchestrator) itemProgress(epoch, index, percent int) {
	o.deliverMu.Lock()
	defer o.deliverMu.Unlock()

	o.mu.Lock()

	if epoch != o.epoch || index != o.state.NextIndex || o.state.Total == 0 {
		o.mu.Unlock()

		return
	}

	overall := (o.state.NextIndex*100 + percent) / o.state.Total
	report := o.advanceOverallLocked(overall)
	o.mu.Unlock()

	report()
}

func (o *Orchestrator) itemFinished(epoch, index int, result pipeline.Result) {
	o.deliverMu.Lock()
	defer o.deliverMu.Unlock()

	o.mu.Lock()

	if epoch != o.epoch || !o.state.Generating || index != o.state.NextIndex {
		o.mu.Unlock()

		return
	}

	segment := &o.state.Segments[index]
	segment.Ready = true

	if result.Success {
		segment.Image = result.Image
	} else {
		segment.Image = o.placeholder
		segment.Failed = true
		segment.FailureReason = result.ErrorMessage
	}

	delivered := *segment
	o.active = nil
	o.state.NextIndex++

	finished := o.state.Finished()
	if finished {
		o.state.Generating = false
		o.state.Paused = false
	} else if !o.state.Paused {
		o.scheduleLocked()
	}

	signalLive := o.options.SignalLiveOutput && !o.liveSent
	o.liveSent = true
	consumers := append([]LiveConsumer(nil), o.consumers...)
	report := o.advanceOverallLocked(o.state.NextIndex * 100 / o.state.Total)
	finish := o.finish
	total := o.state.Total
	o.mu.Unlock()

	if delivered.Failed {
		o.logger.Warnf("Segment %d failed, using placeholder: %s", index, delivered.FailureReason)
	}

	for _, consumer := range consumers {
		if delivered.Failed {
			consumer.ItemFailed(index, delivered.FailureReason)
		}

		consumer.ItemReady(index, delivered.Image, delivered.Text)
	}

	if signalLive && o.options.OnLiveOutput != nil {
		o.options.OnLiveOutput()
	}

	report()

	if finished {
		for _, consumer := range consumers {
			consumer.AllItemsDelivered()
		}

		o.logger.Successf("Batch delivered %d segments", total)
		finish()
	}
}

// advanceOverallLocked returns the progress notification to send after mu is
// released, or a no-op when overall would not move the bar forward.
func (o *Orchestrator) advanceOverallLocked(overall int) func() {
	if overall <= o.overall || o.options.OnProgress == nil {
		return func() {}
	}

	o.overall = overall
	callback := o.options.OnProgress

	return func() {
		callback(overall)
	}
}

func closer(done chan struct{}) func() {
	return func() {
		close(done)
	}
}
