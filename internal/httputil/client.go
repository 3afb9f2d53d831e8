// Package httputil is the HTTP seam shared by the turntable client and the
// camera snapshot source, plus a scripted client for tests.
package httputil

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPClient is the subset of *http.Client the device clients use.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient is an *http.Client with a per-request timeout.
type StandardClient struct {
	*http.Client
}

// NewStandardClient bounds every request by timeout; zero means no bound.
func NewStandardClient(timeout time.Duration) *StandardClient {
	return &StandardClient{Client: &http.Client{Timeout: timeout}}
}

// Get sends a GET for url bound to ctx.
func Get(ctx context.Context, client HTTPClient, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

type reply struct {
	status int
	body   string
	err    error
}

// MockHTTPClient answers requests from a script of replies, in order, and
// keeps every request it saw. When the script runs out it answers an empty
// 200, or DefaultError when that is set.
type MockHTTPClient struct {
	DefaultError error

	mu       sync.Mutex
	script   []reply
	requests []*http.Request
}

// NewMockHTTPClient returns a client with an empty script.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse appends a reply with the given status and body.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, reply{status: status, body: body})
	return m
}

// AddErrorResponse appends a transport failure.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, reply{err: err})
	return m
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	var r reply
	switch {
	case len(m.script) > 0:
		r, m.script = m.script[0], m.script[1:]
	case m.DefaultError != nil:
		return nil, m.DefaultError
	default:
		r = reply{status: http.StatusOK}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// GetRequest returns the nth request seen, or nil.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}

// RequestCount returns how many requests were seen.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
