// ABOUTME: Question extraction from a triggering message
// ABOUTME: Strips whole-word mentions of the responder and falls back to an inference prompt

package responder

import (
	"regexp"
	"strings"
)

// InferQuestion is used when nothing is left after stripping mentions.
const InferQuestion = "What is the user asking about based on the recent messages in this channel? Please infer the question from the conversation context."

// mentionStripper removes mention tokens from message text. Patterns are
// compiled once per Responder.
type mentionStripper struct {
	patterns []*regexp.Regexp
}

// newMentionStripper compiles one pattern per token. A token only matches as
// a whole word, with an optional leading '@' and trailing ':' or ','.
func newMentionStripper(tokens []string) *mentionStripper {
	s := &mentionStripper{}
	for _, tok := range tokens {
		tok = strings.TrimPrefix(strings.TrimSpace(tok), "@")
		if tok == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)(^|[^\pL\pN@])@?` + regexp.QuoteMeta(tok) + `[:,]?($|[^\pL\pN])`)
		s.patterns = append(s.patterns, re)
	}
	return s
}

// Extract returns content without mentions and with whitespace collapsed,
// or InferQuestion when nothing is left.
func (s *mentionStripper) Extract(content string) string {
	q := content
	for _, re := range s.patterns {
		// The separators are part of the match, so adjacent mentions need
		// another pass. Each replacement shortens q.
		for {
			next := re.ReplaceAllString(q, "${1}${2}")
			if next == q {
				break
			}
			q = next
		}
	}
	q = strings.Join(strings.Fields(q), " ")
	if q == "" {
		return InferQuestion
	}
	return q
}

// ExtractQuestion removes every mention token from content. Tokens are
// matched case-insensitively as whole words.
func ExtractQuestion(content string, mentionTokens []string) string {
	return newMentionStripper(mentionTokens).Extract(content)
}
