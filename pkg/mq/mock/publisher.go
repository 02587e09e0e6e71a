// Package mock provides mock implementations of the mq package interfaces for testing.
package mock

import (
	"context"
	"sync"

	"procodus.dev/energy-replay/pkg/mq"
)

// MockPublisher is a mock implementation of mq.Publisher for testing.
// It records every call and lets tests configure the returned errors.
type MockPublisher struct {
	mu sync.Mutex

	// PublishFunc is called when Publish is invoked. If nil, returns PublishError.
	PublishFunc func(ctx context.Context, data []byte) error
	// PublishError is returned by Publish if PublishFunc is nil.
	PublishError error
	// PublishCalls holds the payloads passed to Publish.
	PublishCalls [][]byte

	// PublishAsyncError is returned by PublishAsync.
	PublishAsyncError error
	// PublishAsyncCalls holds the payloads passed to PublishAsync.
	PublishAsyncCalls [][]byte

	// CloseError is returned by Close.
	CloseError error
	// CloseCalls counts calls to Close.
	CloseCalls int
}

// NewMockPublisher creates a MockPublisher that accepts everything.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish implements mq.Publisher.
func (m *MockPublisher) Publish(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishCalls = append(m.PublishCalls, data)

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, data)
	}
	return m.PublishError
}

// PublishAsync implements mq.Publisher.
func (m *MockPublisher) PublishAsync(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishAsyncCalls = append(m.PublishAsyncCalls, data)
	return m.PublishAsyncError
}

// Close implements mq.Publisher.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// Published returns a copy of every payload passed to Publish.
func (m *MockPublisher) Published() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.PublishCalls...)
}

// Ensure MockPublisher implements mq.Publisher.
var _ mq.Publisher = (*MockPublisher)(nil)
