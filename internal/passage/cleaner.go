// Package passage normalizes a selected passage before it is analyzed and segmented.
package passage

import (
	"bufio"
	"regexp"
	"strings"
)

const (
	initialBufferSize = 64 * 1024
	maxLineSize       = 1024 * 1024
)

// Cleaner joins broken lines and flattens typographic artifacts so that sentence
// and word boundaries are reliable.
type Cleaner struct {
	reHyphenJoin  *regexp.Regexp
	reVerseNumber *regexp.Regexp
	reMultiSpace  *regexp.Regexp
	charReplacer  *strings.Replacer
}

// NewCleaner creates a cleaner with all regular expressions precompiled.
func NewCleaner() *Cleaner {
	return &Cleaner{
		reHyphenJoin:  regexp.MustCompile(`(\p{Ll})-\s*\n\s*(\p{Ll})`),
		reVerseNumber: regexp.MustCompile(`(?m)^\s*\[?\d+\]?\s+`),
		reMultiSpace:  regexp.MustCompile(`[ \t]{2,}`),
		charReplacer: strings.NewReplacer(
			"ﬁ", "fi",
			"ﬂ", "fl",
			"ﬀ", "ff",
			"ﬃ", "ffi",
			"ﬄ", "ffl",
			"—", " - ",
			"–", "-",
			"…", "...",
			"“", "\"",
			"”", "\"",
			"‘", "'",
			"’", "'",
			"\u00a0", " ",
			"\r", "",
		),
	}
}

// Clean returns the passage as a single paragraph of normalized prose.
func (c *Cleaner) Clean(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}

	text := c.charReplacer.Replace(input)
	text = c.reHyphenJoin.ReplaceAllString(text, "$1$2")
	text = c.reVerseNumber.ReplaceAllString(text, "")

	return strings.TrimSpace(c.joinLines(text))
}

func (c *Cleaner) joinLines(input string) string {
	var builder strings.Builder
	builder.Grow(len(input))

	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, initialBufferSize), maxLineSize)

	first := true

	for scanner.Scan() {
		line := c.reMultiSpace.ReplaceAllString(strings.TrimSpace(scanner.Text()), " ")
		if line == "" {
			continue
		}

		if !first {
			builder.WriteByte(' ')
		}

		first = false

		builder.WriteString(line)
	}

	if scanner.Err() != nil {
		return input
	}

	return builder.String()
}
