// Package events defines the JSON messages the plate service consumes and
// publishes on NATS.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventHeader contains metadata common to all events.
type EventHeader struct {
	Timestamp  time.Time `json:"Timestamp"`
	WorkflowID string    `json:"WorkflowID"`
	UserID     string    `json:"UserID"`
	TenantID   string    `json:"TenantID"`
	EventID    string    `json:"EventID"`
}

// NewHeader derives the header of an outgoing event from the request that
// caused it: same workflow, user and tenant, fresh identifier and timestamp.
func NewHeader(source EventHeader) EventHeader {
	return EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: source.WorkflowID,
		UserID:     source.UserID,
		TenantID:   source.TenantID,
		EventID:    uuid.New().String(),
	}
}

// PlateRequestedEvent asks for one plate. Passage is used as is; when empty,
// PassageKey names an object holding the passage text.
type PlateRequestedEvent struct {
	Header       EventHeader `json:"Header"`
	PlateID      string      `json:"PlateID,omitempty"`
	TreatiseCode string      `json:"TreatiseCode"`
	Passage      string      `json:"Passage,omitempty"`
	PassageKey   string      `json:"PassageKey,omitempty"`
	SegmentCount int         `json:"SegmentCount,omitempty"`
}

// PlateItemReadyEvent announces one finished cell of a plate.
type PlateItemReadyEvent struct {
	Header      EventHeader `json:"Header"`
	PlateID     string      `json:"PlateID"`
	Index       int         `json:"Index"`
	Total       int         `json:"Total"`
	Text        string      `json:"Text"`
	ImageKey    string      `json:"ImageKey"`
	MIMEType    string      `json:"MIMEType"`
	Placeholder bool        `json:"Placeholder"`
}

// PlateItemFailedEvent reports why an item fell back to the placeholder.
type PlateItemFailedEvent struct {
	Header  EventHeader `json:"Header"`
	PlateID string      `json:"PlateID"`
	Index   int         `json:"Index"`
	Reason  string      `json:"Reason"`
}

// PlateProgressEvent carries the aggregate progress of a plate, 0..100.
type PlateProgressEvent struct {
	Header  EventHeader `json:"Header"`
	PlateID string      `json:"PlateID"`
	Percent int         `json:"Percent"`
}

// PlateCompletedEvent is published once per plate, after the last item or
// after a cancellation.
type PlateCompletedEvent struct {
	Header        EventHeader `json:"Header"`
	PlateID       string      `json:"PlateID"`
	PlateKey      string      `json:"PlateKey,omitempty"`
	Delivered     int         `json:"Delivered"`
	Total         int         `json:"Total"`
	FailedIndexes []int       `json:"FailedIndexes,omitempty"`
	Cancelled     bool        `json:"Cancelled"`
}
