// Package segment splits a passage into the text slices shown in each plate cell.
package segment

import (
	"strings"
	"unicode"
)

// wordBoundaryWindowDivisor bounds how far a character cut may move to reach a
// space: at most chunkSize/wordBoundaryWindowDivisor runes in either direction.
const wordBoundaryWindowDivisor = 2

// Split returns exactly count segments of text in source order. Sentences are
// distributed evenly when there are enough of them, otherwise the text is cut by
// character count near word boundaries. Short inputs are padded with copies of
// the last segment. A count below one is treated as one.
func Split(text string, count int) []string {
	if count < 1 {
		count = 1
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return pad(nil, count, text)
	}

	sentences := Sentences(trimmed)
	if len(sentences) >= count {
		return distributeSentences(sentences, count)
	}

	return pad(splitByCharacters(trimmed, count), count, trimmed)
}

// Sentences splits text after '.', '!' or '?' when the mark is followed by
// whitespace or ends the text. A trailing fragment without a mark is kept.
func Sentences(text string) []string {
	runes := []rune(text)

	var sentences []string

	start := 0

	for index, current := range runes {
		if !isTerminal(current) {
			continue
		}

		atEnd := index == len(runes)-1
		if !atEnd && !unicode.IsSpace(runes[index+1]) {
			continue
		}

		if sentence := strings.TrimSpace(string(runes[start : index+1])); sentence != "" {
			sentences = append(sentences, sentence)
		}

		start = index + 1
	}

	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			sentences = append(sentences, tail)
		}
	}

	return sentences
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func distributeSentences(sentences []string, count int) []string {
	base := len(sentences) / count
	extra := len(sentences) % count

	segments := make([]string, 0, count)
	cursor := 0

	for index := range count {
		size := base
		if index < extra {
			size++
		}

		segments = append(segments, strings.Join(sentences[cursor:cursor+size], " "))
		cursor += size
	}

	return segments
}

func splitByCharacters(text string, count int) []string {
	runes := []rune(text)
	chunkSize := (len(runes) + count - 1) / count
	window := max(chunkSize/wordBoundaryWindowDivisor, 1)

	segments := make([]string, 0, count)
	start := 0

	for index := 0; index < count && start < len(runes); index++ {
		end := len(runes)
		if index < count-1 {
			end = nearestBoundary(runes, min(start+chunkSize, len(runes)), start, window)
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			segments = append(segments, piece)
		}

		start = end
		for start < len(runes) && unicode.IsSpace(runes[start]) {
			start++
		}
	}

	return segments
}

// nearestBoundary moves cut to the closest whitespace within window runes,
// preferring a backward move. The returned cut is always past start.
func nearestBoundary(runes []rune, cut, start, window int) int {
	if cut >= len(runes) || unicode.IsSpace(runes[cut]) {
		return cut
	}

	for offset := 1; offset <= window; offset++ {
		if back := cut - offset; back > start && unicode.IsSpace(runes[back]) {
			return back
		}

		if forward := cut + offset; forward < len(runes) && unicode.IsSpace(runes[forward]) {
			return forward
		}
	}

	return cut
}

func pad(segments []string, count int, fallback string) []string {
	if len(segments) == 0 {
		segments = append(segments, fallback)
	}

	for len(segments) < count {
		segments = append(segments, segments[len(segments)-1])
	}

	return segments
}
