// Package enrichment turns a passage into a scene description, a mood and a
// set of visual keywords. It never fails: when the preferred provider cannot
// answer, the outcome is derived from the passage itself.
package enrichment

import (
	"context"
	"errors"
)

var (
	// ErrProviderNotConfigured is returned by a provider that has no credential.
	ErrProviderNotConfigured = errors.New("enrichment provider not configured")
	// ErrEmptyReply is returned when a provider answers with no text.
	ErrEmptyReply = errors.New("enrichment provider returned an empty reply")
)

// Provider is a text model that answers one enrichment prompt.
type Provider interface {
	Enrich(ctx context.Context, prompt string) (string, error)
	Configured() bool
	Name() string
}

// GenerationSettings are shared by every provider adapter.
type GenerationSettings struct {
	APIKey            string
	BaseURL           string
	Model             string
	SystemInstruction string
	Temperature       float64
	MaxTokens         int
	TimeoutSeconds    int
}
