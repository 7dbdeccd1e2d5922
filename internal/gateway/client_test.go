// ABOUTME: Tests for the gateway HTTP/SSE client and its adapters
// ABOUTME: Runs against an httptest server speaking the /api/send SSE protocol

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-responder/internal/conversation"
	"github.com/2389/coven-responder/internal/decider"
	"github.com/2389/coven-responder/internal/responder"
)

// sseServer answers /api/send with the given events and captures the request.
func sseServer(t *testing.T, events []SSEEvent, got *SendRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/send" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, evt := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func textEvent(text string) SSEEvent {
	data, _ := json.Marshal(TextEventData{Text: text})
	return SSEEvent{Type: EventText, Data: string(data)}
}

func doneEvent(full string) SSEEvent {
	data, _ := json.Marshal(TextEventData{FullResponse: full})
	return SSEEvent{Type: EventDone, Data: string(data)}
}

func TestClient_SendMessage(t *testing.T) {
	var got SendRequest
	srv := sseServer(t, []SSEEvent{
		{Type: EventThinking, Data: `{"text":"hmm"}`},
		textEvent("Hello "),
		textEvent("world"),
		doneEvent("Hello world"),
	}, &got)

	var seen []EventType
	c := NewClient(srv.URL+"/", "")
	reply, err := c.SendMessage(context.Background(), SendRequest{
		ThreadID: "thread-1",
		Sender:   "alice",
		Content:  "hi",
		AgentID:  "agent-1",
	}, func(evt SSEEvent) { seen = append(seen, evt.Type) })

	require.NoError(t, err)
	assert.Equal(t, "Hello world", reply)
	assert.Equal(t, []EventType{EventThinking, EventText, EventText, EventDone}, seen)
	assert.Equal(t, "thread-1", got.ThreadID)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, frontendName, got.Frontend)
}

func TestClient_SendMessage_FallsBackToStreamedText(t *testing.T) {
	srv := sseServer(t, []SSEEvent{textEvent("part one, "), textEvent("part two"), doneEvent("")}, nil)

	reply, err := NewClient(srv.URL, "").SendMessage(context.Background(), SendRequest{Content: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "part one, part two", reply)
}

func TestClient_SendMessage_AgentError(t *testing.T) {
	srv := sseServer(t, []SSEEvent{{Type: EventError, Data: `{"error":"agent crashed"}`}}, nil)

	_, err := NewClient(srv.URL, "").SendMessage(context.Background(), SendRequest{Content: "hi"}, nil)
	assert.EqualError(t, err, "agent error: agent crashed")
}

func TestClient_SendMessage_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"no agents available"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").SendMessage(context.Background(), SendRequest{Content: "hi"}, nil)
	assert.EqualError(t, err, "gateway error (503): no agents available")
}

func TestClient_SendMessage_BearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: done\ndata: {\"full_response\":\"ok\"}\n\n")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "secret").SendMessage(context.Background(), SendRequest{Content: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
}

func TestClient_SendMessage_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, "").SendMessage(ctx, SendRequest{Content: "hi"}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		reply   string
		want    bool
		wantErr bool
	}{
		{"YES", true, false},
		{"yes.", true, false},
		{"**No**", false, false},
		{"No, they are talking to each other.", false, false},
		{"", false, true},
		{"maybe", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			got, err := ParseVerdict(tt.reply)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJudge_UsesJudgeAgent(t *testing.T) {
	var got SendRequest
	srv := sseServer(t, []SSEEvent{doneEvent("YES")}, &got)

	var j decider.Judge = NewJudge(NewClient(srv.URL, ""), "judge-agent")
	ok, err := j.Judge(context.Background(), "should I answer?")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "judge-agent", got.AgentID)
	assert.Equal(t, "should I answer?", got.Content)
	assert.True(t, strings.HasPrefix(got.ThreadID, "judge-"))
}

func testConversation() *conversation.Conversation {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &conversation.Conversation{
		ID:        "conv-1",
		ChannelID: "!room:example.org",
		Messages: []conversation.MessageRecord{
			{ID: "$1", AuthorName: "alice", Content: "@Responder is staging up?", Timestamp: at},
			{ID: "$2", AuthorName: "bob", Content: "it was down earlier", Timestamp: at.Add(10 * time.Second)},
			{ID: "$3", AuthorName: "alice", Content: "why?", Timestamp: at.Add(20 * time.Second)},
		},
		Turns: []conversation.Turn{{MessageID: "$1", Answer: "yes"}},
	}
}

func TestGenerator_Generate(t *testing.T) {
	var got SendRequest
	srv := sseServer(t, []SSEEvent{doneEvent("  because of the deploy  ")}, &got)

	conv := testConversation()
	var g responder.Generator = NewGenerator(NewClient(srv.URL, ""), "main-agent", nil)
	reply, err := g.Generate(context.Background(), responder.GenerateRequest{
		Question:     "why?",
		Trigger:      conv.Messages[2],
		Conversation: conv,
		Reason:       decider.ReasonRecentFollowup,
	})

	require.NoError(t, err)
	assert.Equal(t, "because of the deploy", reply)
	assert.Equal(t, "conv-1", got.ThreadID)
	assert.Equal(t, "main-agent", got.AgentID)
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "!room:example.org", got.ChannelID)
}

func TestGenerator_EmptyReply(t *testing.T) {
	srv := sseServer(t, []SSEEvent{doneEvent("   ")}, nil)

	conv := testConversation()
	_, err := NewGenerator(NewClient(srv.URL, ""), "", nil).Generate(context.Background(), responder.GenerateRequest{
		Question:     "why?",
		Trigger:      conv.Messages[2],
		Conversation: conv,
	})
	assert.Error(t, err)
}

func TestBuildPrompt_OnlyUnseenMessages(t *testing.T) {
	conv := testConversation()
	prompt := BuildPrompt(responder.GenerateRequest{
		Question:     "why?",
		Trigger:      conv.Messages[2],
		Conversation: conv,
	})

	assert.Contains(t, prompt, "bob: it was down earlier")
	assert.NotContains(t, prompt, "is staging up?", "already answered")
	assert.True(t, strings.HasSuffix(prompt, "alice asks: why?"))
}

func TestBuildPrompt_NoTurnsIncludesSeed(t *testing.T) {
	conv := testConversation()
	conv.Turns = nil
	prompt := BuildPrompt(responder.GenerateRequest{
		Question:     "is staging up?",
		Trigger:      conv.Messages[0],
		Conversation: conv,
	})

	assert.Contains(t, prompt, "bob: it was down earlier")
	assert.NotContains(t, prompt, "@Responder is staging up?")
}
