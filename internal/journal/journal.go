package journal

import (
	"context"
	"time"
)

// Line is one transcript line persisted for a call.
type Line struct {
	Text       string
	Final      bool
	Confidence float64
	At         time.Time
}

// Summary captures the totals of a finished call.
type Summary struct {
	StartedAt time.Time
	EndedAt   time.Time
	Chunks    int64
	Bytes     int64
	Reason    string
}

// Journal persists the lifecycle of a call for later review. Implementations
// must tolerate failure: a journal error never takes the live call down, the
// caller logs and moves on.
type Journal interface {
	CallStarted(ctx context.Context, sessionID string, at time.Time) error
	TranscriptLine(ctx context.Context, sessionID string, line Line) error
	CallEnded(ctx context.Context, sessionID string, summary Summary) error
}

// Nop discards everything. Used when no persistence backend is configured.
type Nop struct{}

func (Nop) CallStarted(context.Context, string, time.Time) error { return nil }
func (Nop) TranscriptLine(context.Context, string, Line) error   { return nil }
func (Nop) CallEnded(context.Context, string, Summary) error     { return nil }
