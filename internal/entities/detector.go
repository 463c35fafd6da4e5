// Package entities finds mythic figures, creatures and places named in a passage.
package entities

import "strings"

// keywords is scanned in order; detection results keep this order.
var keywords = []string{
	"serpent",
	"dragon",
	"phoenix",
	"sphinx",
	"giant",
	"angel",
	"demon",
	"goddess",
	"god",
	"king",
	"queen",
	"hero",
	"sun",
	"moon",
	"star",
	"sky",
	"ocean",
	"sea",
	"river",
	"mountain",
	"tree",
	"garden",
	"temple",
	"tower",
	"throne",
	"crown",
	"sword",
	"fire",
	"flood",
	"storm",
	"underworld",
	"egg",
	"eye",
}

// Detect returns each table keyword contained in text, case-insensitively.
func Detect(text string) []string {
	lowered := strings.ToLower(text)

	var found []string

	for _, keyword := range keywords {
		if strings.Contains(lowered, keyword) {
			found = append(found, keyword)
		}
	}

	return found
}

// Keywords returns a copy of the detection table.
func Keywords() []string {
	return append([]string(nil), keywords...)
}
