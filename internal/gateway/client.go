// ABOUTME: Gateway API client for coven-responder
// ABOUTME: Sends messages and streams SSE responses from a coven gateway

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EventType represents SSE event types from the gateway.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventText       EventType = "text"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventFile       EventType = "file"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// frontendName identifies this bridge to the gateway.
const frontendName = "responder"

// SSEEvent represents a parsed Server-Sent Event.
type SSEEvent struct {
	Type EventType
	Data string
}

// TextEventData is the JSON structure for text/thinking/done events.
type TextEventData struct {
	Text         string `json:"text,omitempty"`
	FullResponse string `json:"full_response,omitempty"`
}

// ErrorEventData is the JSON structure for error events.
type ErrorEventData struct {
	Error string `json:"error"`
}

// SendRequest is the request body for POST /api/send.
type SendRequest struct {
	ThreadID  string `json:"thread_id,omitempty"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	AgentID   string `json:"agent_id,omitempty"`
	Frontend  string `json:"frontend,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// Client communicates with the coven gateway HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a new gateway client. token may be empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// SendMessage sends a message to the gateway and streams SSE responses via callback.
// Returns the full response text, falling back to the concatenated text
// events when the done event carries none.
func (c *Client) SendMessage(ctx context.Context, req SendRequest, onEvent func(SSEEvent)) (string, error) {
	if req.Frontend == "" {
		req.Frontend = frontendName
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/send", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.handleErrorResponse(resp)
	}

	return c.parseSSEStream(ctx, resp.Body, onEvent)
}

// handleErrorResponse extracts error message from non-200 responses.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp ErrorEventData
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
		}
	}

	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// parseSSEStream reads SSE events from the response body.
func (c *Client) parseSSEStream(ctx context.Context, body io.Reader, onEvent func(SSEEvent)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventType EventType
	var dataLines []string
	var fullResponse string
	var streamed strings.Builder

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				evt := SSEEvent{
					Type: eventType,
					Data: strings.Join(dataLines, "\n"),
				}

				switch eventType {
				case EventText:
					var data TextEventData
					if json.Unmarshal([]byte(evt.Data), &data) == nil {
						streamed.WriteString(data.Text)
					}
				case EventDone:
					var data TextEventData
					if json.Unmarshal([]byte(evt.Data), &data) == nil {
						fullResponse = data.FullResponse
					}
				case EventError:
					var data ErrorEventData
					if json.Unmarshal([]byte(evt.Data), &data) == nil {
						return "", fmt.Errorf("agent error: %s", data.Error)
					}
				}

				if onEvent != nil {
					onEvent(evt)
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = EventType(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading SSE stream: %w", err)
	}

	if fullResponse == "" {
		fullResponse = streamed.String()
	}
	return fullResponse, nil
}
