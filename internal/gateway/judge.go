// ABOUTME: Judge adapter that asks a gateway agent a yes/no question
// ABOUTME: Satisfies decider.Judge for the lowest-confidence decision tier

package gateway

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// judgeSender is the sender name the judge agent sees.
const judgeSender = "responder-judge"

// Judge asks a gateway agent whether the responder should answer.
type Judge struct {
	client  *Client
	agentID string
}

// NewJudge creates a Judge that routes prompts to agentID.
func NewJudge(client *Client, agentID string) *Judge {
	return &Judge{client: client, agentID: agentID}
}

// Judge sends the prompt on a throwaway thread and parses the reply.
func (j *Judge) Judge(ctx context.Context, prompt string) (bool, error) {
	reply, err := j.client.SendMessage(ctx, SendRequest{
		ThreadID: "judge-" + uuid.NewString(),
		Sender:   judgeSender,
		Content:  prompt,
		AgentID:  j.agentID,
	}, nil)
	if err != nil {
		return false, fmt.Errorf("judge request: %w", err)
	}
	return ParseVerdict(reply)
}

// ParseVerdict reads a YES/NO answer from the first word of reply.
func ParseVerdict(reply string) (bool, error) {
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return false, fmt.Errorf("empty judge reply")
	}
	word := strings.ToUpper(strings.TrimFunc(fields[0], func(r rune) bool {
		return !unicode.IsLetter(r)
	}))
	switch word {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	}
	return false, fmt.Errorf("unrecognised judge reply %q", truncate(reply, 40))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
