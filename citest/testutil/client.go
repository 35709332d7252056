package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RequestOption configures HTTP requests
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithQuery adds query parameters
func WithQuery(params map[string]string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		r.URL.RawQuery = q.Encode()
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrorCode extracts the error code from an error envelope, or ""
func (r *Response) ErrorCode() string {
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &envelope); err != nil {
		return ""
	}
	return envelope.Error.Code
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body, opts...)
}

// Delete performs HTTP DELETE request
func (c *TestClient) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, opts...)
}

// do performs the actual HTTP request
func (c *TestClient) do(ctx context.Context, method, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	fullURL := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// ---- Session Helpers ----

// Session mirrors the session representation returned by the API
type Session struct {
	ID            string            `json:"id"`
	Phase         string            `json:"phase"`
	Consent       string            `json:"consent"`
	Locale        string            `json:"locale"`
	Metadata      map[string]string `json:"metadata"`
	MessageCount  int               `json:"messageCount"`
	TriageSummary string            `json:"triageSummary"`
	CloseReason   string            `json:"closeReason"`
}

// CreateSessionResponse is the create-session response body
type CreateSessionResponse struct {
	Session  *Session `json:"session"`
	Greeting string   `json:"greeting"`
}

// Verdict mirrors a risk verdict in API responses
type Verdict struct {
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Degraded   bool    `json:"degraded"`
}

// Plan mirrors an escalation plan in API responses
type Plan struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Channel  string `json:"channel"`
	Priority string `json:"priority"`
	Directive *struct {
		EmergencyNumber string `json:"emergencyNumber"`
		Text            string `json:"text"`
	} `json:"directive"`
}

// Bundle mirrors a resource bundle in API responses
type Bundle struct {
	Locale          string `json:"locale"`
	Category        string `json:"category"`
	EmergencyNumber string `json:"emergencyNumber"`
	Resources       []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Category string `json:"category"`
		Phone    string `json:"phone"`
	} `json:"resources"`
}

// TurnResult mirrors the turn response body
type TurnResult struct {
	SessionID   string  `json:"sessionID"`
	TurnID      string  `json:"turnID"`
	Phase       string  `json:"phase"`
	Reply       string  `json:"reply"`
	Verdict     Verdict `json:"verdict"`
	Plan        *Plan   `json:"plan"`
	Bundle      *Bundle `json:"bundle"`
	Closed      bool    `json:"closed"`
	CloseReason string  `json:"closeReason"`
}

// Event mirrors a ledger event in API responses
type Event struct {
	SessionID string          `json:"sessionID"`
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Time      int64           `json:"time"`
	Payload   json.RawMessage `json:"payload"`
}

// CreateSession opens a new session
func (c *TestClient) CreateSession(ctx context.Context, locale string) (*CreateSessionResponse, error) {
	var body any
	if locale != "" {
		body = map[string]string{"locale": locale}
	}
	resp, err := c.Post(ctx, "/api/sessions", body)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to create session: %d - %s", resp.StatusCode, resp.String())
	}

	var created CreateSessionResponse
	if err := resp.JSON(&created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetSession retrieves a session by ID
func (c *TestClient) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	resp, err := c.Get(ctx, "/api/sessions/"+sessionID)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to get session: %d - %s", resp.StatusCode, resp.String())
	}

	var session Session
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions lists open sessions
func (c *TestClient) ListSessions(ctx context.Context) ([]Session, error) {
	resp, err := c.Get(ctx, "/api/sessions")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to list sessions: %d - %s", resp.StatusCode, resp.String())
	}

	var sessions []Session
	if err := resp.JSON(&sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// SendTurn submits one user turn
func (c *TestClient) SendTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	resp, err := c.Post(ctx, "/api/sessions/"+sessionID+"/turns", map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to send turn: %d - %s", resp.StatusCode, resp.String())
	}

	var result TurnResult
	if err := resp.JSON(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Consent records an explicit consent action ("grant" or "revoke")
func (c *TestClient) Consent(ctx context.Context, sessionID, action string) (*TurnResult, error) {
	resp, err := c.Post(ctx, "/api/sessions/"+sessionID+"/consent", map[string]string{"action": action})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to record consent: %d - %s", resp.StatusCode, resp.String())
	}

	var result TurnResult
	if err := resp.JSON(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CloseSession closes a session as the operator
func (c *TestClient) CloseSession(ctx context.Context, sessionID string) (*Session, error) {
	resp, err := c.Delete(ctx, "/api/sessions/"+sessionID)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to close session: %d - %s", resp.StatusCode, resp.String())
	}

	var session Session
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetEvents replays a session's ledger events from a sequence number.
// Pass 0 for the full history.
func (c *TestClient) GetEvents(ctx context.Context, sessionID string, from uint64) ([]Event, error) {
	opts := []RequestOption{}
	if from > 0 {
		opts = append(opts, WithQuery(map[string]string{"from": fmt.Sprintf("%d", from)}))
	}
	resp, err := c.Get(ctx, "/api/sessions/"+sessionID+"/events", opts...)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to get events: %d - %s", resp.StatusCode, resp.String())
	}

	var events []Event
	if err := resp.JSON(&events); err != nil {
		return nil, err
	}
	return events, nil
}

// LookupResources queries the hotline directory
func (c *TestClient) LookupResources(ctx context.Context, locale, category string) (*Bundle, error) {
	params := map[string]string{}
	if locale != "" {
		params["locale"] = locale
	}
	if category != "" {
		params["category"] = category
	}
	resp, err := c.Get(ctx, "/api/resources", WithQuery(params))
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to look up resources: %d - %s", resp.StatusCode, resp.String())
	}

	var bundle Bundle
	if err := resp.JSON(&bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

// Health checks the health endpoint
func (c *TestClient) Health(ctx context.Context) (*Response, error) {
	return c.Get(ctx, "/health")
}
