// ABOUTME: Lexical follow-up heuristic used shortly after the responder has spoken
// ABOUTME: Short questions and messages opening with a continuation phrase count as follow-ups

package decider

import (
	"strings"
	"unicode"
)

// maxFollowupWords is the longest question still treated as a quick follow-up.
const maxFollowupWords = 10

// continuationPhrases open messages that continue the previous exchange.
var continuationPhrases = [][]string{
	{"what", "about"},
	{"how", "about"},
	{"and"},
	{"also"},
	{"why"},
	{"but"},
}

// LooksLikeFollowup reports whether content reads like a continuation of the
// conversation: a short question, or a message opening with a continuation
// phrase.
func LooksLikeFollowup(content string) bool {
	text := strings.ToLower(strings.TrimSpace(content))
	if text == "" {
		return false
	}

	words := strings.Fields(text)
	if len(words) <= maxFollowupWords && strings.Contains(text, "?") {
		return true
	}

	for _, phrase := range continuationPhrases {
		if hasLeadingWords(words, phrase) {
			return true
		}
	}
	return false
}

func hasLeadingWords(words, phrase []string) bool {
	if len(words) < len(phrase) {
		return false
	}
	for i, want := range phrase {
		if trimPunct(words[i]) != want {
			return false
		}
	}
	return true
}

func trimPunct(word string) string {
	return strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
