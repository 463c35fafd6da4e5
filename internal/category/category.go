// Package category maps treatise codes to mythic categories and their visual style.
package category

import "strings"

// Category is the mythic family a treatise belongs to.
type Category string

const (
	Cosmogony  Category = "cosmogony"
	Underworld Category = "underworld"
	Heroic     Category = "heroic"
	Celestial  Category = "celestial"
	Wisdom     Category = "wisdom"
	Mystic     Category = "mystic"
)

// Default applies to any unrecognized treatise code.
const Default = Mystic

// Style is the look applied to every image of a category.
type Style struct {
	Palette        []string
	VisualKeywords []string
	Lighting       string
}

var treatises = map[string]Category{
	"GEN": Cosmogony,
	"ENU": Cosmogony,
	"THE": Cosmogony,
	"POP": Cosmogony,
	"BOD": Underworld,
	"INA": Underworld,
	"ORP": Underworld,
	"GIL": Heroic,
	"ILI": Heroic,
	"ODY": Heroic,
	"EDD": Heroic,
	"RIG": Celestial,
	"AST": Celestial,
	"TAO": Wisdom,
	"UPA": Wisdom,
	"HER": Wisdom,
}

var styles = map[Category]Style{
	Cosmogony: {
		Palette:        []string{"deep indigo", "molten gold", "pearl white"},
		VisualKeywords: []string{"primordial waters", "swirling nebula", "first light"},
		Lighting:       "radiant light breaking through darkness",
	},
	Underworld: {
		Palette:        []string{"obsidian black", "ember red", "ash grey"},
		VisualKeywords: []string{"shadowed halls", "river of the dead", "torchlight"},
		Lighting:       "low flickering firelight with heavy shadow",
	},
	Heroic: {
		Palette:        []string{"bronze", "crimson", "sea blue"},
		VisualKeywords: []string{"epic scale", "battle-worn armor", "windswept banners"},
		Lighting:       "dramatic golden-hour rim light",
	},
	Celestial: {
		Palette:        []string{"midnight blue", "silver", "violet"},
		VisualKeywords: []string{"constellations", "celestial chariot", "starfield"},
		Lighting:       "cool starlight with soft bloom",
	},
	Wisdom: {
		Palette:        []string{"jade green", "parchment", "ink black"},
		VisualKeywords: []string{"mist-covered peaks", "flowing water", "ancient scrolls"},
		Lighting:       "soft diffuse morning light",
	},
	Mystic: {
		Palette:        []string{"amethyst", "antique gold", "smoke"},
		VisualKeywords: []string{"sacred geometry", "veiled figures", "illuminated manuscript"},
		Lighting:       "ethereal glow from an unseen source",
	},
}

// Classify resolves a treatise code; unknown or empty codes yield Default.
func Classify(treatiseCode string) Category {
	if found, ok := treatises[strings.ToUpper(strings.TrimSpace(treatiseCode))]; ok {
		return found
	}

	return Default
}

// StyleFor returns a copy of the category's style, or the default style.
func StyleFor(value Category) Style {
	style, ok := styles[value]
	if !ok {
		style = styles[Default]
	}

	return Style{
		Palette:        append([]string(nil), style.Palette...),
		VisualKeywords: append([]string(nil), style.VisualKeywords...),
		Lighting:       style.Lighting,
	}
}
