// Package testutil provides testing utilities for the schema client.
package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// MockSchemaResponse defines the behavior for a mock schema endpoint response.
type MockSchemaResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
	Gzip       bool
}

// MockSchemaServer is a configurable mock schema host for testing.
type MockSchemaServer struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
}

// NewMockSchemaServer creates a new mock schema server.
func NewMockSchemaServer() *MockSchemaServer {
	mock := &MockSchemaServer{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSchemaServer) URL() string {
	return m.server.URL
}

// Client returns an HTTP client configured for the mock server.
func (m *MockSchemaServer) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockSchemaServer) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSchemaServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSchemaServer) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockSchemaServer) SetResponse(path string, resp MockSchemaResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		body := []byte(resp.Body)
		if resp.Gzip {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			zw.Write(body)
			zw.Close()
			body = buf.Bytes()
			w.Header().Set("Content-Encoding", "gzip")
		}

		w.WriteHeader(resp.StatusCode)
		if len(body) > 0 {
			w.Write(body)
		}
	})
}

// RequestCountValue returns the number of requests made to the server.
func (m *MockSchemaServer) RequestCountValue() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// ConditionalCountValue returns the number of requests carrying If-None-Match.
func (m *MockSchemaServer) ConditionalCountValue() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// LastHeader returns a copy of the headers of the most recent request.
func (m *MockSchemaServer) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// NewSchemaResponse creates a 200 OK response carrying an ETag.
func NewSchemaResponse(etag, body string) MockSchemaResponse {
	headers := map[string]string{
		"Content-Type": "application/schema+json",
	}
	if etag != "" {
		headers["ETag"] = etag
	}
	return MockSchemaResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    headers,
	}
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockSchemaResponse {
	return MockSchemaResponse{StatusCode: http.StatusNotModified}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse(body string) MockSchemaResponse {
	return MockSchemaResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       body,
	}
}

// NewConditionalHandler responds 304 when If-None-Match equals etag and
// 200 with the full body otherwise.
func NewConditionalHandler(etag string, data string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/schema+json")

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}

// NewRedirectHandler redirects to target with 302 Found.
func NewRedirectHandler(target string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}
}
