package batch

import "github.com/book-expert/plate-generation-service/internal/imagegen"

// Segment is one slice of the passage and, once ready, its image. Text never
// changes after the batch starts; Image is set at most once.
type Segment struct {
	Image         imagegen.Image
	Text          string
	FailureReason string
	Index         int
	Ready         bool
	Failed        bool
}

// State is the batch as seen from outside. NextIndex counts delivered items.
type State struct {
	Segments   []Segment
	NextIndex  int
	Total      int
	Generating bool
	Paused     bool
}

// Finished reports whether every segment has been delivered.
func (s State) Finished() bool {
	return s.Total > 0 && s.NextIndex == s.Total
}

func (s State) clone() State {
	cloned := s
	cloned.Segments = append([]Segment(nil), s.Segments...)

	return cloned
}
