package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockTransport is a scripted Transport for development and tests. Results
// are keyed by publish id; unscripted uploads succeed with synthetic
// platform ids.
type MockTransport struct {
	mu       sync.Mutex
	scripted map[string][]*UploadResult
	calls    []MockCall
	delay    time.Duration
}

// MockCall records one Upload invocation.
type MockCall struct {
	Item UploadItem
	At   time.Time
}

// NewMockTransport creates an empty mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{scripted: make(map[string][]*UploadResult)}
}

// Script queues results for a publish id, consumed in order. After the
// script runs out, uploads fall back to the default success result.
func (m *MockTransport) Script(publishID string, results ...*UploadResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[publishID] = append(m.scripted[publishID], results...)
}

// SetDelay makes every upload block for d before returning.
func (m *MockTransport) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns a copy of all recorded invocations.
func (m *MockTransport) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Upload records the call and returns the next scripted result.
func (m *MockTransport) Upload(ctx context.Context, item UploadItem) (*UploadResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Item: item, At: time.Now().UTC()})
	var result *UploadResult
	if queue := m.scripted[item.PublishID]; len(queue) > 0 {
		result = queue[0]
		m.scripted[item.PublishID] = queue[1:]
	}
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if result == nil {
		result = &UploadResult{
			Success:         true,
			PlatformVideoID: "mock-" + item.PublishID,
			PlatformURL:     fmt.Sprintf("https://example.invalid/watch/%s", item.PublishID),
		}
	}
	return result, nil
}

// Close is a no-op.
func (m *MockTransport) Close() error { return nil }
