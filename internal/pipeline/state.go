package pipeline

import (
	"sync/atomic"

	"github.com/book-expert/plate-generation-service/internal/category"
	"github.com/book-expert/plate-generation-service/internal/imagegen"
)

// State is the lifecycle position of one run.
type State int

const (
	Idle State = iota
	AnalyzingText
	Enriching
	GeneratingImage
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AnalyzingText:
		return "analyzing_text"
	case Enriching:
		return "enriching"
	case GeneratingImage:
		return "generating_image"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Context is the immutable input of one run plus its cancellation flag.
type Context struct {
	Passage      string
	TreatiseCode string
	Category     category.Category
	cancelled    atomic.Bool
}

// NewContext resolves the category of treatiseCode, falling back to the
// default category for unknown codes.
func NewContext(passage, treatiseCode string) *Context {
	return &Context{
		Passage:      passage,
		TreatiseCode: treatiseCode,
		Category:     category.Classify(treatiseCode),
	}
}

// Cancel raises the flag. Safe from any goroutine.
func (c *Context) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether the flag was raised.
func (c *Context) Cancelled() bool {
	return c.cancelled.Load()
}

// Result is produced once, when a run reaches Completed or Failed.
type Result struct {
	Image              imagegen.Image
	ErrorMessage       string
	PromptUsed         string
	Success            bool
	EnrichmentDegraded bool
}

// Hooks receive run notifications one at a time, in transition order. Nil
// hooks are skipped.
type Hooks struct {
	OnStateChanged func(state State, message string)
	OnProgress     func(percent int)
	OnCompleted    func(result Result)
	OnFailed       func(result Result)
}
