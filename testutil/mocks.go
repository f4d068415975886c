package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockChatworkServer is a fake Chatwork API. Handlers are keyed by "METHOD /path".
// Every request is recorded so tests can assert on what was (not) called.
type MockChatworkServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []RecordedRequest
}

// RecordedRequest is one call seen by the mock.
type RecordedRequest struct {
	Method string
	Path   string
	Token  string
	Form   map[string]string
}

// NewMockChatworkServer creates a new mock Chatwork API server.
func NewMockChatworkServer(t *testing.T) *MockChatworkServer {
	t.Helper()
	m := &MockChatworkServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := RecordedRequest{Method: r.Method, Path: r.URL.Path, Token: r.Header.Get("X-ChatWorkToken"), Form: map[string]string{}}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
			_ = r.ParseForm()
			for k := range r.PostForm {
				rec.Form[k] = r.PostForm.Get(k)
			}
		}
		m.mu.Lock()
		m.requests = append(m.requests, rec)
		m.mu.Unlock()

		if handler, ok := m.Handlers[r.Method+" "+r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns a copy of the recorded requests.
func (m *MockChatworkServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Count returns how many requests hit "METHOD /path".
func (m *MockChatworkServer) Count(method, path string) int {
	n := 0
	for _, r := range m.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// JSON registers a handler that replies with v as JSON.
func (m *MockChatworkServer) JSON(method, path string, v any) {
	m.Handlers[method+" "+path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
	}
}

// Status registers a handler that replies with a bare status code.
func (m *MockChatworkServer) Status(method, path string, code int) {
	m.Handlers[method+" "+path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}

// MockRooms adds a handler for GET /rooms.
func (m *MockChatworkServer) MockRooms(rooms []map[string]any) {
	m.JSON(http.MethodGet, "/rooms", rooms)
}

// MockMembers adds a handler for GET /rooms/{id}/members.
func (m *MockChatworkServer) MockMembers(roomID string, members []map[string]any) {
	m.JSON(http.MethodGet, "/rooms/"+roomID+"/members", members)
}

// MockMessages adds a handler for GET /rooms/{id}/messages. An empty slice answers 204.
func (m *MockChatworkServer) MockMessages(roomID string, msgs []map[string]any) {
	m.Handlers[http.MethodGet+" /rooms/"+roomID+"/messages"] = func(w http.ResponseWriter, r *http.Request) {
		if len(msgs) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(msgs) //nolint:errcheck // test mock response
	}
}

// MockSend accepts POST /rooms/{id}/messages and answers with messageID.
func (m *MockChatworkServer) MockSend(roomID, messageID string) {
	m.JSON(http.MethodPost, "/rooms/"+roomID+"/messages", map[string]string{"message_id": messageID})
}
