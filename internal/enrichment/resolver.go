package enrichment

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/plate-generation-service/internal/promptbuilder"
)

const (
	// DefaultMood is the emotion used whenever no model supplied one.
	DefaultMood = "contemplative"
	// FallbackSceneRunes bounds the passage excerpt used as a fallback scene.
	FallbackSceneRunes = 500
)

// Outcome is the visual reading of a passage. Degraded is set when it was
// derived from the passage instead of a provider reply.
type Outcome struct {
	Scene          string
	Emotion        string
	VisualKeywords []string
	Degraded       bool
}

type structuredReply struct {
	Scene          string   `json:"scene"`
	Emotion        string   `json:"emotion"`
	VisualKeywords []string `json:"visual_keywords"`
}

// Resolver dispatches to the preferred provider and degrades to a fallback.
type Resolver struct {
	providers map[string]Provider
	logger    *logger.Logger
	preferred string
}

// NewResolver registers providers by Name. The preferred name selects which
// one answers; it is matched case-insensitively.
func NewResolver(preferred string, log *logger.Logger, providers ...Provider) *Resolver {
	registry := make(map[string]Provider, len(providers))
	for _, provider := range providers {
		if provider != nil {
			registry[strings.ToLower(provider.Name())] = provider
		}
	}

	return &Resolver{
		providers: registry,
		logger:    log,
		preferred: strings.ToLower(strings.TrimSpace(preferred)),
	}
}

// Resolve makes at most one provider call and always returns an outcome.
func (r *Resolver) Resolve(ctx context.Context, passage string, detectedEntities []string, category string) Outcome {
	fallback := Fallback(passage, detectedEntities)

	provider, ok := r.providers[r.preferred]
	if !ok {
		r.logger.Warnf("Enrichment provider %q is not registered, using passage fallback", r.preferred)

		return fallback
	}

	if !provider.Configured() {
		r.logger.Warnf("Enrichment provider %q has no credential, using passage fallback", r.preferred)

		return fallback
	}

	prompt := promptbuilder.BuildEnrichmentPrompt(promptbuilder.EnrichmentRequest{
		Passage:  passage,
		Entities: detectedEntities,
		Category: category,
	})

	reply, err := provider.Enrich(ctx, prompt)
	if err != nil {
		r.logger.Warnf("Enrichment with %q failed, using passage fallback: %v", r.preferred, err)

		return fallback
	}

	return ParseReply(reply, fallback)
}

// Fallback builds the outcome used when no provider can answer.
func Fallback(passage string, detectedEntities []string) Outcome {
	keywords := make([]string, len(detectedEntities))
	copy(keywords, detectedEntities)

	return Outcome{
		Scene:          truncateRunes(strings.TrimSpace(passage), FallbackSceneRunes),
		Emotion:        DefaultMood,
		VisualKeywords: keywords,
		Degraded:       true,
	}
}

// ParseReply reads the JSON object embedded in reply. A reply without a
// parsable object becomes the scene verbatim. Blank fields take the
// fallback's emotion and keywords.
func ParseReply(reply string, fallback Outcome) Outcome {
	raw := strings.TrimSpace(reply)
	outcome := Outcome{
		Scene:          raw,
		Emotion:        fallback.Emotion,
		VisualKeywords: fallback.VisualKeywords,
	}

	parsed, ok := extractObject(raw)
	if !ok {
		return outcome
	}

	if scene := strings.TrimSpace(parsed.Scene); scene != "" {
		outcome.Scene = scene
	}

	if emotion := strings.TrimSpace(parsed.Emotion); emotion != "" {
		outcome.Emotion = emotion
	}

	if keywords := nonBlank(parsed.VisualKeywords); len(keywords) > 0 {
		outcome.VisualKeywords = keywords
	}

	return outcome
}

func extractObject(reply string) (structuredReply, bool) {
	var parsed structuredReply

	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")

	if start < 0 || end <= start {
		return parsed, false
	}

	if err := json.Unmarshal([]byte(reply[start:end+1]), &parsed); err != nil {
		return parsed, false
	}

	return parsed, true
}

func nonBlank(values []string) []string {
	var kept []string

	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}

	return kept
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit])
}
