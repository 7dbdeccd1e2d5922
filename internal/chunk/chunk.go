// ABOUTME: Splits long replies into pieces that fit a transport's message limit
// ABOUTME: Prefers paragraph, then sentence, then word boundaries before a hard split

// Package chunk splits text for transports with a maximum message length.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the Matrix-friendly default limit in runes.
const DefaultMaxLength = 4000

// Split breaks text into chunks of at most max runes. Chunks are trimmed of
// surrounding whitespace and empty chunks are dropped. max <= 0 uses
// DefaultMaxLength.
func Split(text string, max int) []string {
	if max <= 0 {
		max = DefaultMaxLength
	}

	var chunks []string
	remaining := strings.TrimSpace(text)
	for remaining != "" {
		if utf8.RuneCountInString(remaining) <= max {
			chunks = append(chunks, remaining)
			break
		}

		window := prefix(remaining, max)
		cut := splitPoint(window)

		head := strings.TrimSpace(remaining[:cut])
		if head != "" {
			chunks = append(chunks, head)
		}
		remaining = strings.TrimSpace(remaining[cut:])
	}
	return chunks
}

// splitPoint returns the byte offset to cut window at.
func splitPoint(window string) int {
	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i
	}
	if i := lastSentenceEnd(window); i > 0 {
		return i
	}
	if i := strings.LastIndexAny(window, " \n\t"); i > 0 {
		return i
	}
	return len(window)
}

// lastSentenceEnd returns the offset just past the last ". ", "! " or "? ".
func lastSentenceEnd(s string) int {
	best := -1
	for _, sep := range []string{". ", "! ", "? ", ".\n"} {
		if i := strings.LastIndex(s, sep); i > best {
			best = i
		}
	}
	if best < 0 {
		return -1
	}
	return best + 1
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
