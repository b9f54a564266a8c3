package transcribe

import (
	"context"
	"sync"
)

// MockFactory hands out in-memory bridges for tests and local development.
type MockFactory struct {
	mu      sync.Mutex
	bridges map[string]*MockBridge
}

func NewMockFactory() *MockFactory {
	return &MockFactory{bridges: make(map[string]*MockBridge)}
}

func (f *MockFactory) Enabled() bool { return true }

func (f *MockFactory) NewBridge(sessionID string) (Bridge, error) {
	b := &MockBridge{}
	f.mu.Lock()
	f.bridges[sessionID] = b
	f.mu.Unlock()
	return b, nil
}

// Bridge returns the bridge created for a session, or nil.
func (f *MockFactory) Bridge(sessionID string) *MockBridge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bridges[sessionID]
}

// MockBridge records written audio and lets the caller emit recognition
// events as if the engine produced them.
type MockBridge struct {
	mu       sync.Mutex
	started  bool
	closed   bool
	written  [][]byte
	onResult func(Result)
	onError  func(error)
}

func (m *MockBridge) Start(_ context.Context, onResult func(Result), onError func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	m.onResult = onResult
	m.onError = onError
	return nil
}

func (m *MockBridge) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.written = append(m.written, cp)
	return nil
}

func (m *MockBridge) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Emit pushes a recognition event through the registered result callback.
func (m *MockBridge) Emit(r Result) {
	m.mu.Lock()
	onResult := m.onResult
	m.mu.Unlock()
	if onResult != nil {
		onResult(r)
	}
}

// Fail pushes an engine error through the registered error callback.
func (m *MockBridge) Fail(err error) {
	m.mu.Lock()
	onError := m.onError
	m.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

func (m *MockBridge) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *MockBridge) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockBridge) Written() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.written)
}
