// ABOUTME: Generator adapter that produces replies through a gateway agent
// ABOUTME: Each conversation maps to its own gateway thread

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/coven-responder/internal/conversation"
	"github.com/2389/coven-responder/internal/responder"
)

// Generator sends conversation context to a gateway agent.
type Generator struct {
	client  *Client
	agentID string
	logger  *slog.Logger
}

// NewGenerator creates a Generator that routes requests to agentID.
func NewGenerator(client *Client, agentID string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:  client,
		agentID: agentID,
		logger:  logger.With("component", "gateway-generator"),
	}
}

// Generate returns the agent's full reply for req.
func (g *Generator) Generate(ctx context.Context, req responder.GenerateRequest) (string, error) {
	if req.Conversation == nil {
		return "", fmt.Errorf("generate: nil conversation")
	}

	content := BuildPrompt(req)
	events := 0
	reply, err := g.client.SendMessage(ctx, SendRequest{
		ThreadID:  req.Conversation.ID,
		Sender:    req.Trigger.AuthorName,
		Content:   content,
		AgentID:   g.agentID,
		ChannelID: req.Conversation.ChannelID,
	}, func(SSEEvent) { events++ })
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	g.logger.Debug("reply generated",
		"conversation_id", req.Conversation.ID,
		"events", events,
		"length", len(reply))

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("generate: agent returned an empty reply")
	}
	return reply, nil
}

// BuildPrompt renders the messages the agent has not seen yet followed by
// the question. The gateway thread keeps earlier turns, so only messages
// after the last answered turn are included.
func BuildPrompt(req responder.GenerateRequest) string {
	var b strings.Builder

	msgs := unseen(req.Conversation, req.Trigger.ID)
	if len(msgs) > 0 {
		b.WriteString("Recent messages in this channel:\n")
		for _, m := range msgs {
			b.WriteString(m.String())
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%s asks: %s", req.Trigger.AuthorName, strings.TrimSpace(req.Question))
	return b.String()
}

// unseen returns the messages recorded after the last turn's message,
// excluding the trigger itself.
func unseen(conv *conversation.Conversation, triggerID string) []conversation.MessageRecord {
	start := 0
	if last, ok := conv.LastTurn(); ok {
		for i, m := range conv.Messages {
			if m.ID == last.MessageID {
				start = i + 1
			}
		}
	}

	var out []conversation.MessageRecord
	for _, m := range conv.Messages[start:] {
		if m.ID == triggerID {
			continue
		}
		out = append(out, m)
	}
	return out
}
