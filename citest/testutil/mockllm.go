package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMServer mimics an OpenAI-compatible chat completions API with
// scripted careline behavior: substring-routed risk verdicts, a fixed
// triage summary, and canned support replies. careline only issues
// non-streaming completions, so only the plain chat.completion shape is
// served.
type MockLLMServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []MockRequest
	verdicts map[string]string
	summary  string
	reply    string
}

// MockRequest records incoming requests for verification.
type MockRequest struct {
	Timestamp time.Time
	Method    string
	Path      string
	Body      map[string]interface{}
}

// NewMockLLMServer creates a new mock LLM server with safe defaults: every
// classification returns "NONE 0.9" until a verdict is scripted.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{
		requests: make([]MockRequest, 0),
		verdicts: make(map[string]string),
	}

	mux := http.NewServeMux()

	// OpenAI-compatible endpoint
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// GetRequests returns all recorded requests.
func (m *MockLLMServer) GetRequests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// ScriptVerdict makes classification requests whose user text contains
// substring answer with the given "SEVERITY CONFIDENCE" line.
func (m *MockLLMServer) ScriptVerdict(substring, verdict string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts[strings.ToLower(substring)] = verdict
}

// ScriptSummary sets the triage summary returned for summarization requests.
func (m *MockLLMServer) ScriptSummary(summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = summary
}

// ScriptReply sets the reply returned for conversational requests.
func (m *MockLLMServer) ScriptReply(reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = reply
}

// handleChatCompletions handles OpenAI-compatible chat completions.
func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{
		Timestamp: time.Now(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Body:      req,
	})
	m.mu.Unlock()

	system := extractMessage(req, "system")
	user := extractMessage(req, "user")
	content := m.generateContent(system, user)

	writeCompletion(w, content)
}

// generateContent routes on the system prompt: classification and triage
// requests carry distinctive instructions, everything else is conversation.
func (m *MockLLMServer) generateContent(system, user string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case strings.Contains(system, "safety monitoring"):
		lower := strings.ToLower(user)
		for sub, verdict := range m.verdicts {
			if strings.Contains(lower, sub) {
				return verdict
			}
		}
		return "NONE 0.9"

	case strings.Contains(system, "Summarize the person's presenting concern"):
		if m.summary != "" {
			return m.summary
		}
		return "Person reports a general concern. No acute urgency signals noted."

	default:
		if m.reply != "" {
			return m.reply
		}
		return "I hear you. That sounds really difficult, and I'm glad you told me."
	}
}

// extractMessage returns the content of the last message with the given role.
func extractMessage(req map[string]interface{}, role string) string {
	messages, ok := req["messages"].([]interface{})
	if !ok || len(messages) == 0 {
		return ""
	}

	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]interface{})
		if !ok {
			continue
		}
		if r, ok := msg["role"].(string); ok && r == role {
			if content, ok := msg["content"].(string); ok {
				return content
			}
		}
	}
	return ""
}

// writeCompletion writes a non-streaming OpenAI response.
func writeCompletion(w http.ResponseWriter, content string) {
	response := map[string]interface{}{
		"id":      "chatcmpl-mockllm-" + generateMockID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt-4",
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     100,
			"completion_tokens": 50,
			"total_tokens":      150,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// generateMockID generates a simple mock ID.
func generateMockID() string {
	return "mock123456"
}
