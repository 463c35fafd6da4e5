// Package pipeline runs one passage through analysis, enrichment and image
// generation. A Coordinator admits at most one non-terminal run at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/plate-generation-service/internal/category"
	"github.com/book-expert/plate-generation-service/internal/enrichment"
	"github.com/book-expert/plate-generation-service/internal/entities"
	"github.com/book-expert/plate-generation-service/internal/imagegen"
	"github.com/book-expert/plate-generation-service/internal/promptbuilder"
)

// ErrRunInProgress is returned by Start while another run is not terminal.
var ErrRunInProgress = errors.New("a generation run is already in progress")

const (
	progressAnalysisStarted  = 5
	progressEntitiesDetected = 10
	progressEnrichmentSent   = 20
	progressEnrichmentDone   = 50
	progressImageBase        = 60
	progressImageSpan        = 35
	progressImageCeiling     = 95
	progressComplete         = 100
)

// Enricher resolves the visual reading of a passage. It never fails.
type Enricher interface {
	Resolve(ctx context.Context, passage string, detectedEntities []string, category string) enrichment.Outcome
}

// Settings are forwarded to the image provider on every run.
type Settings struct {
	AspectRatio string
	ImageCount  int
}

// Coordinator owns the single run slot.
type Coordinator struct {
	enricher  Enricher
	generator imagegen.Generator
	logger    *logger.Logger
	slot      chan struct{}
	settings  Settings
}

// NewCoordinator creates a coordinator with a free run slot.
func NewCoordinator(
	enricher Enricher,
	generator imagegen.Generator,
	settings Settings,
	log *logger.Logger,
) *Coordinator {
	return &Coordinator{
		enricher:  enricher,
		generator: generator,
		logger:    log,
		slot:      make(chan struct{}, 1),
		settings:  settings,
	}
}

// Busy reports whether a run currently holds the slot.
func (c *Coordinator) Busy() bool {
	return len(c.slot) > 0
}

// Start launches a run on its own goroutine and returns immediately.
func (c *Coordinator) Start(ctx context.Context, pipelineContext *Context, hooks Hooks) (*Run, error) {
	select {
	case c.slot <- struct{}{}:
	default:
		c.logger.Warnf("Rejected generation start: %v", ErrRunInProgress)

		return nil, ErrRunInProgress
	}

	run := &Run{
		coordinator: c,
		input:       pipelineContext,
		hooks:       hooks,
		state:       Idle,
		done:        make(chan struct{}),
	}

	go run.execute(ctx)

	return run, nil
}

func (c *Coordinator) release() {
	select {
	case <-c.slot:
	default:
	}
}

// Run is one passage moving through the pipeline.
type Run struct {
	coordinator *Coordinator
	input       *Context
	done        chan struct{}
	hooks       Hooks
	// pending holds hook calls in transition order; one goroutine at a time
	// delivers them.
	pending    []func()
	mu         sync.Mutex
	state      State
	progress   int
	delivering bool
}

// State returns the current lifecycle position.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Progress returns the last reported percentage.
func (r *Run) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.progress
}

// Done is closed once the run reaches a terminal state and its hooks returned.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancel moves a non-terminal run to Cancelled. The in-flight provider call
// keeps going; whatever it returns is dropped. Repeated calls do nothing.
// When another hook is running, the Cancelled notification follows it after
// Cancel has returned.
func (r *Run) Cancel() {
	r.input.Cancel()
	r.cancelled()
}

func (r *Run) execute(ctx context.Context) {
	if !r.advance(AnalyzingText, "Analyzing passage") {
		return
	}

	r.report(progressAnalysisStarted)

	detected := entities.Detect(r.input.Passage)
	r.report(progressEntitiesDetected)

	if !r.advance(Enriching, fmt.Sprintf("Enriching passage (%d motifs detected)", len(detected))) {
		return
	}

	r.report(progressEnrichmentSent)

	outcome := r.coordinator.enricher.Resolve(ctx, r.input.Passage, detected, string(r.input.Category))
	if r.abandoned() {
		return
	}

	r.report(progressEnrichmentDone)

	style := category.StyleFor(r.input.Category)
	prompt := promptbuilder.BuildImagePrompt(promptbuilder.ImagePromptInput{
		Scene:          outcome.Scene,
		Emotion:        outcome.Emotion,
		VisualKeywords: outcome.VisualKeywords,
		StyleKeywords:  style.VisualKeywords,
		Palette:        style.Palette,
		Lighting:       style.Lighting,
	})

	if !r.advance(GeneratingImage, "Generating image") {
		return
	}

	r.report(progressImageBase)

	image, err := r.generate(ctx, prompt)
	if err != nil {
		r.finish(Failed, Result{
			ErrorMessage:       err.Error(),
			PromptUsed:         prompt,
			EnrichmentDegraded: outcome.Degraded,
		}, fmt.Sprintf("Image generation failed: %v", err))

		return
	}

	r.finish(Completed, Result{
		Image:              image,
		PromptUsed:         prompt,
		Success:            true,
		EnrichmentDegraded: outcome.Degraded,
	}, "Image generated")
}

func (r *Run) generate(ctx context.Context, prompt string) (imagegen.Image, error) {
	generator := r.coordinator.generator
	if generator == nil || !generator.Configured() {
		return imagegen.Image{}, imagegen.ErrProviderNotConfigured
	}

	settings := r.coordinator.settings

	image, err := generator.Generate(ctx, prompt, settings.AspectRatio, settings.ImageCount, func(percent int) {
		r.report(ImageProgress(percent))
	})
	if err != nil {
		return imagegen.Image{}, fmt.Errorf("%s image provider: %w", generator.Name(), err)
	}

	return image, nil
}

// ImageProgress maps provider progress onto the run's image stage.
func ImageProgress(providerPercent int) int {
	percent := progressImageBase + providerPercent*progressImageSpan/100
	if percent > progressImageCeiling {
		return progressImageCeiling
	}

	if percent < progressImageBase {
		return progressImageBase
	}

	return percent
}

// abandoned reports a raised cancel flag and settles the run as Cancelled.
func (r *Run) abandoned() bool {
	if !r.input.Cancelled() {
		return false
	}

	r.cancelled()

	return true
}

// advance performs a non-terminal transition unless the run was cancelled or
// already settled.
func (r *Run) advance(next State, message string) bool {
	if r.abandoned() {
		return false
	}

	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()

		return false
	}

	r.state = next
	r.enqueueLocked(r.stateNotice(next, message))
	r.mu.Unlock()

	r.deliver()

	return true
}

func (r *Run) report(percent int) {
	if r.input.Cancelled() {
		return
	}

	r.mu.Lock()
	if r.state.Terminal() || percent <= r.progress {
		r.mu.Unlock()

		return
	}

	r.progress = percent
	r.enqueueLocked(r.progressNotice(percent))
	r.mu.Unlock()

	r.deliver()
}

func (r *Run) cancelled() {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()

		return
	}

	r.state = Cancelled
	r.coordinator.release()
	r.enqueueLocked(r.stateNotice(Cancelled, "Generation cancelled"), r.closeDone)
	r.mu.Unlock()

	r.coordinator.logger.Infof("Generation run cancelled")
	r.deliver()
}

func (r *Run) finish(terminal State, result Result, message string) {
	if r.input.Cancelled() {
		r.cancelled()

		return
	}

	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()

		return
	}

	r.state = terminal
	r.coordinator.release()

	if terminal == Completed && r.progress < progressComplete {
		r.progress = progressComplete
		r.enqueueLocked(r.progressNotice(progressComplete))
	}

	r.enqueueLocked(r.stateNotice(terminal, message), r.resultNotice(terminal, result), r.closeDone)
	r.mu.Unlock()

	if terminal == Failed {
		r.coordinator.logger.Warnf("Generation run failed: %s", result.ErrorMessage)
	}

	r.deliver()
}

// enqueueLocked appends hook calls. Caller holds mu.
func (r *Run) enqueueLocked(notices ...func()) {
	r.pending = append(r.pending, notices...)
}

// deliver runs queued hook calls unless another goroutine already is, in which
// case that goroutine picks them up. Hooks never run concurrently and may call
// Cancel on their own run.
func (r *Run) deliver() {
	r.mu.Lock()
	if r.delivering {
		r.mu.Unlock()

		return
	}

	r.delivering = true

	for len(r.pending) > 0 {
		next := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		next()

		r.mu.Lock()
	}

	r.delivering = false
	r.mu.Unlock()
}

func (r *Run) stateNotice(state State, message string) func() {
	return func() {
		if r.hooks.OnStateChanged != nil {
			r.hooks.OnStateChanged(state, message)
		}
	}
}

func (r *Run) progressNotice(percent int) func() {
	return func() {
		if r.hooks.OnProgress != nil {
			r.hooks.OnProgress(percent)
		}
	}
}

func (r *Run) resultNotice(terminal State, result Result) func() {
	return func() {
		if terminal == Completed {
			if r.hooks.OnCompleted != nil {
				r.hooks.OnCompleted(result)
			}

			return
		}

		if r.hooks.OnFailed != nil {
			r.hooks.OnFailed(result)
		}
	}
}

func (r *Run) closeDone() {
	close(r.done)
}
