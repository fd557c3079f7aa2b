package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock gateway service.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockGateway is a configurable mock ERP gateway for testing. It serves the
// service endpoint, dispatching on the serviceName query parameter, and
// understands the login and logout services out of the box.
type MockGateway struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	RequestCount int
	LastService  string
	LastSession  string
}

// NewMockGateway creates a mock gateway server.
func NewMockGateway() *MockGateway {
	mock := &MockGateway{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		service := r.URL.Query().Get("serviceName")

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastService = service
		if c, err := r.Cookie("JSESSIONID"); err == nil {
			mock.LastSession = c.Value
		} else {
			mock.LastSession = ""
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[service]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r, service)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGateway) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGateway) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a service name.
func (m *MockGateway) SetHandler(service string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[service] = handler
}

// SetResponse configures a fixed response for a service name.
func (m *MockGateway) SetResponse(service string, resp MockResponse) {
	m.SetHandler(service, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests seen by the server.
func (m *MockGateway) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

func (m *MockGateway) defaultHandler(w http.ResponseWriter, r *http.Request, service string) {
	w.Header().Set("Content-Type", "application/json")

	switch service {
	case "MobileLoginSP.login":
		json.NewEncoder(w).Encode(map[string]any{
			"sessionId": "mock-session-1",
			"userCode":  1,
		})
	case "MobileLoginSP.logout":
		w.Write([]byte(`{}`))
	default:
		w.Write([]byte(`{"records": []}`))
	}
}
