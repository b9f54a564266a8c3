package journal

import (
	"context"
	"sync"
	"time"
)

// CallRecord is the in-memory view of one journaled call.
type CallRecord struct {
	SessionID string
	StartedAt time.Time
	Summary   *Summary
	Lines     []Line
}

// Memory keeps call records in process memory. Used in tests and when
// running without MongoDB.
type Memory struct {
	mu    sync.Mutex
	calls map[string]*CallRecord
}

func NewMemory() *Memory {
	return &Memory{calls: make(map[string]*CallRecord)}
}

func (m *Memory) CallStarted(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[sessionID] = &CallRecord{SessionID: sessionID, StartedAt: at}
	return nil
}

func (m *Memory) TranscriptLine(_ context.Context, sessionID string, line Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.calls[sessionID]; ok {
		rec.Lines = append(rec.Lines, line)
	}
	return nil
}

func (m *Memory) CallEnded(_ context.Context, sessionID string, summary Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.calls[sessionID]; ok {
		s := summary
		rec.Summary = &s
	}
	return nil
}

// Call returns a copy of the record for a session, or nil.
func (m *Memory) Call(sessionID string) *CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[sessionID]
	if !ok {
		return nil
	}
	cp := *rec
	cp.Lines = append([]Line(nil), rec.Lines...)
	if rec.Summary != nil {
		s := *rec.Summary
		cp.Summary = &s
	}
	return &cp
}
