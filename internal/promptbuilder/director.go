package promptbuilder

import (
	"fmt"
	"strings"
)

// EnrichmentRequest is the material the enrichment model describes.
type EnrichmentRequest struct {
	Passage  string
	Entities []string
	// Category is the mythic family of the source treatise, e.g. "underworld".
	Category string
}

// ImagePromptInput carries everything the final image prompt is assembled from.
type ImagePromptInput struct {
	Scene          string
	Emotion        string
	VisualKeywords []string
	StyleKeywords  []string
	Palette        []string
	Lighting       string
}

// BuildEnrichmentPrompt asks the model for a single JSON object describing the
// visual scene of a passage.
func BuildEnrichmentPrompt(request EnrichmentRequest) string {
	var sb strings.Builder

	sb.WriteString("You are an art director illustrating sacred and mythic texts.\n")
	sb.WriteString("Read the passage and describe ONE image that captures it.\n\n")

	if request.Category != "" {
		sb.WriteString(fmt.Sprintf("Mythic tradition: %s\n", request.Category))
	}

	if len(request.Entities) > 0 {
		sb.WriteString(fmt.Sprintf("Figures and motifs present: %s\n", strings.Join(request.Entities, ", ")))
	}

	sb.WriteString("\n### PASSAGE\n")
	sb.WriteString(strings.TrimSpace(request.Passage))
	sb.WriteString("\n\n")

	sb.WriteString("### OUTPUT (JSON ONLY, NO MARKDOWN):\n")
	sb.WriteString(`{"scene": "<one or two sentences describing the image>", `)
	sb.WriteString(`"emotion": "<dominant mood in one or two words>", `)
	sb.WriteString(`"visual_keywords": ["<short visual motif>", "..."]}`)
	sb.WriteString("\n")

	return sb.String()
}

// BuildImagePrompt joins the scene, mood, merged keywords and palette into one
// natural-language prompt. Empty parts are left out.
func BuildImagePrompt(input ImagePromptInput) string {
	parts := make([]string, 0, 5)

	if scene := strings.TrimRight(strings.TrimSpace(input.Scene), "."); scene != "" {
		parts = append(parts, scene)
	}

	if emotion := strings.TrimSpace(input.Emotion); emotion != "" {
		parts = append(parts, fmt.Sprintf("Mood: %s", emotion))
	}

	if keywords := MergeKeywords(input.VisualKeywords, input.StyleKeywords); len(keywords) > 0 {
		parts = append(parts, fmt.Sprintf("Elements: %s", strings.Join(keywords, ", ")))
	}

	if len(input.Palette) > 0 {
		parts = append(parts, fmt.Sprintf("Palette: %s", strings.Join(input.Palette, ", ")))
	}

	if lighting := strings.TrimSpace(input.Lighting); lighting != "" {
		parts = append(parts, fmt.Sprintf("Lighting: %s", lighting))
	}

	return strings.Join(parts, ". ")
}

// MergeKeywords concatenates keyword lists, dropping blanks and
// case-insensitive duplicates while keeping first-seen order.
func MergeKeywords(lists ...[]string) []string {
	seen := map[string]bool{}

	var merged []string

	for _, list := range lists {
		for _, keyword := range list {
			trimmed := strings.TrimSpace(keyword)
			key := strings.ToLower(trimmed)

			if trimmed == "" || seen[key] {
				continue
			}

			seen[key] = true
			merged = append(merged, trimmed)
		}
	}

	return merged
}
