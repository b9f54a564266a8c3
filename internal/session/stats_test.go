package session

import (
	"testing"
	"time"
)

func TestComputeStats_Projection(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	now := time.Now()

	stats := computeStats("abc-123", start, 40,
		captureState{recording: true, volume: 0.42},
		transportState{open: true, bytesSent: 4096, chunksSent: 50},
		now)

	if stats.SessionID != "abc-123" {
		t.Errorf("unexpected session id %q", stats.SessionID)
	}
	if !stats.Connected || !stats.Recording {
		t.Errorf("expected connected and recording, got %+v", stats)
	}
	if stats.Volume != 0.42 {
		t.Errorf("expected volume 0.42, got %f", stats.Volume)
	}
	if stats.BytesSent != 4096 || stats.ChunksSent != 50 || stats.ChunksAcked != 40 {
		t.Errorf("unexpected counters: %+v", stats)
	}
	want := now.Sub(start)
	if stats.Elapsed != want {
		t.Errorf("expected elapsed %v, got %v", want, stats.Elapsed)
	}
}

func TestComputeStats_IdleSession(t *testing.T) {
	stats := computeStats("", time.Time{}, 0,
		captureState{}, transportState{}, time.Now())

	if stats.Elapsed != 0 {
		t.Errorf("expected zero elapsed for idle session, got %v", stats.Elapsed)
	}
	if stats.Connected || stats.Recording {
		t.Errorf("expected disconnected idle projection, got %+v", stats)
	}
}
