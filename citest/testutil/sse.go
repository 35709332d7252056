package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SSEClient provides SSE client utilities for testing
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu       sync.Mutex
	events   []SSEEvent
	eventsCh chan SSEEvent
	errCh    chan error
	cancel   context.CancelFunc
	body     io.ReadCloser
}

// NewSSEClient creates a new SSE test client
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
		eventsCh: make(chan SSEEvent, 100),
		errCh:    make(chan error, 1),
	}
}

// Connect starts the SSE connection
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("unexpected content type: %s", contentType)
	}

	c.body = resp.Body

	// Start reading events in background
	go c.readEvents(resp.Body)

	return nil
}

// readEvents reads SSE events from the connection
func (c *SSEClient) readEvents(body io.Reader) {
	defer func() {
		close(c.eventsCh)
		close(c.errCh)
	}()

	reader := bufio.NewReader(body)
	var eventType string
	var eventData strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && err != context.Canceled {
				c.errCh <- err
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")

		// Empty line = event complete
		if line == "" {
			if eventData.Len() > 0 {
				data := eventData.String()
				evt := SSEEvent{
					Type: eventType,
					Data: json.RawMessage(data),
				}

				c.mu.Lock()
				c.events = append(c.events, evt)
				c.mu.Unlock()

				select {
				case c.eventsCh <- evt:
				default:
					// Channel full, drop event
				}
			}
			eventType = ""
			eventData.Reset()
			continue
		}

		// Comment (heartbeat)
		if strings.HasPrefix(line, ":") {
			evt := SSEEvent{Type: "heartbeat"}
			c.mu.Lock()
			c.events = append(c.events, evt)
			c.mu.Unlock()
			select {
			case c.eventsCh <- evt:
			default:
			}
			continue
		}

		// Parse field
		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimPrefix(line, "data:")
			data = strings.TrimSpace(data)
			eventData.WriteString(data)
		}
	}
}

// Events returns the event channel
func (c *SSEClient) Events() <-chan SSEEvent {
	return c.eventsCh
}

// Errors returns the error channel
func (c *SSEClient) Errors() <-chan error {
	return c.errCh
}

// WaitForAnyEvent waits for any event with timeout
func (c *SSEClient) WaitForAnyEvent(timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	select {
	case evt, ok := <-c.eventsCh:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		return &evt, nil
	case err := <-c.errCh:
		return nil, err
	case <-deadline:
		return nil, fmt.Errorf("timeout waiting for event")
	}
}

// WaitForPayloadType waits for a stream payload of the given type with
// timeout, skipping events of other types.
func (c *SSEClient) WaitForPayloadType(payloadType string, timeout time.Duration) (*StreamPayload, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			payload, err := evt.ParsePayload()
			if err != nil {
				continue
			}
			if payload.Type == payloadType {
				return payload, nil
			}
		case err := <-c.errCh:
			return nil, err
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for payload type: %s", payloadType)
		}
	}
}

// CollectEvents collects events for a duration
func (c *SSEClient) CollectEvents(duration time.Duration) []SSEEvent {
	var collected []SSEEvent
	deadline := time.After(duration)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return collected
			}
			collected = append(collected, evt)
		case <-deadline:
			return collected
		}
	}
}

// GetAllEvents returns all received events
func (c *SSEClient) GetAllEvents() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]SSEEvent, len(c.events))
	copy(result, c.events)
	return result
}

// Close closes the SSE connection
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.body != nil {
		c.body.Close()
	}
}

// ---- Stream Payload Helpers ----

// StreamPayload is the careline event feed frame: a bus event type plus
// its JSON data.
type StreamPayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// LedgerEventData is the payload data for ledger-backed events.
type LedgerEventData struct {
	Event Event `json:"event"`
}

// ParsePayload parses the frame carried by an SSE event
func (evt *SSEEvent) ParsePayload() (*StreamPayload, error) {
	var payload StreamPayload
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// LedgerEvent parses a ledger-backed payload's event
func (p *StreamPayload) LedgerEvent() (*Event, error) {
	var data LedgerEventData
	if err := json.Unmarshal(p.Data, &data); err != nil {
		return nil, err
	}
	return &data.Event, nil
}
