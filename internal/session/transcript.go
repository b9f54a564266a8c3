package session

import (
	"sync"
	"time"
)

// TranscriptLine is one client-visible transcript entry.
type TranscriptLine struct {
	Text       string
	Final      bool
	Confidence float64
	At         time.Time
}

// TranscriptLog holds the client-visible transcript. Interim results are
// provisional: a new result for the same utterance replaces the most recent
// entry while that entry is still interim, and a new line is only appended
// once the previous one is final. Consecutive interim results therefore
// never accumulate as separate lines.
type TranscriptLog struct {
	mu    sync.Mutex
	lines []TranscriptLine
}

// Add folds one transcription event into the log.
func (l *TranscriptLog) Add(line TranscriptLine) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.lines); n > 0 && !l.lines[n-1].Final {
		l.lines[n-1] = line
		return
	}
	l.lines = append(l.lines, line)
}

// Lines returns a copy of the current transcript.
func (l *TranscriptLog) Lines() []TranscriptLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TranscriptLine, len(l.lines))
	copy(out, l.lines)
	return out
}

// Reset clears the log.
func (l *TranscriptLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = nil
}
