package promptbuilder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/plate-generation-service/internal/promptbuilder"
)

func TestBuildImagePrompt(t *testing.T) {
	t.Parallel()

	prompt := promptbuilder.BuildImagePrompt(promptbuilder.ImagePromptInput{
		Scene:          "A serpent coils around the world tree",
		Emotion:        "ominous",
		VisualKeywords: []string{"serpent", "Tree"},
		StyleKeywords:  []string{"tree", "first light"},
		Palette:        []string{"deep indigo", "molten gold"},
		Lighting:       "radiant light breaking through darkness",
	})

	assert.Equal(t,
		"A serpent coils around the world tree. Mood: ominous. Elements: serpent, Tree, first light. "+
			"Palette: deep indigo, molten gold. Lighting: radiant light breaking through darkness",
		prompt,
	)
}

func TestBuildImagePrompt_SkipsEmptyParts(t *testing.T) {
	t.Parallel()

	prompt := promptbuilder.BuildImagePrompt(promptbuilder.ImagePromptInput{
		Scene:   "  Dawn over the sea.  ",
		Emotion: " ",
	})

	assert.Equal(t, "Dawn over the sea", prompt)
}

func TestMergeKeywords(t *testing.T) {
	t.Parallel()

	merged := promptbuilder.MergeKeywords(
		[]string{"Sun", " ", "moon"},
		nil,
		[]string{"sun", "star", "Moon "},
	)

	assert.Equal(t, []string{"Sun", "moon", "star"}, merged)
}

func TestBuildEnrichmentPrompt(t *testing.T) {
	t.Parallel()

	prompt := promptbuilder.BuildEnrichmentPrompt(promptbuilder.EnrichmentRequest{
		Passage:  "  The waters parted.  ",
		Entities: []string{"sea", "god"},
		Category: "cosmogony",
	})

	assert.Contains(t, prompt, "Mythic tradition: cosmogony")
	assert.Contains(t, prompt, "Figures and motifs present: sea, god")
	assert.Contains(t, prompt, "### PASSAGE\nThe waters parted.\n")
	assert.Contains(t, prompt, `"visual_keywords"`)
}

func TestBuildEnrichmentPrompt_OmitsEmptySections(t *testing.T) {
	t.Parallel()

	prompt := promptbuilder.BuildEnrichmentPrompt(promptbuilder.EnrichmentRequest{Passage: "Silence."})

	assert.NotContains(t, prompt, "Mythic tradition")
	assert.NotContains(t, prompt, "Figures and motifs")
}
