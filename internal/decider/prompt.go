// ABOUTME: Prompt construction for the judge tier
// ABOUTME: Combines recent conversation context, responder turns, and the candidate message

package decider

import (
	"strings"

	"github.com/2389/coven-responder/internal/conversation"
)

// maxJudgeTurns caps how many responder answers are quoted to the judge.
const maxJudgeTurns = 3

// BuildJudgePrompt renders the yes/no question handed to a Judge.
func BuildJudgePrompt(msg conversation.MessageRecord, conv *conversation.Conversation, contextMessages int) string {
	var b strings.Builder
	b.WriteString("You are deciding whether an assistant taking part in a group chat should reply to the latest message.\n")
	b.WriteString("Reply only if the message is directed at the assistant or continues its exchange with the participants.\n\n")

	if conv != nil {
		if history := priorMessages(conv, msg.ID, contextMessages); len(history) > 0 {
			b.WriteString("Recent messages:\n")
			for _, m := range history {
				b.WriteString(m.String())
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}

		turns := conv.Turns
		if len(turns) > maxJudgeTurns {
			turns = turns[len(turns)-maxJudgeTurns:]
		}
		if len(turns) > 0 {
			b.WriteString("The assistant's recent answers:\n")
			for _, t := range turns {
				b.WriteString("Q: ")
				b.WriteString(t.Question)
				b.WriteString("\nA: ")
				b.WriteString(t.Answer)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("Latest message:\n")
	b.WriteString(msg.String())
	b.WriteString("\n\nAnswer with exactly one word: YES or NO.")
	return b.String()
}

// priorMessages returns up to n messages preceding the candidate. The
// candidate is already the last recorded message once it has joined a live
// conversation; it is shown separately and dropped here.
func priorMessages(conv *conversation.Conversation, candidateID string, n int) []conversation.MessageRecord {
	msgs := conv.Messages
	if last := len(msgs) - 1; last >= 0 && candidateID != "" && msgs[last].ID == candidateID {
		msgs = msgs[:last]
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs
}
