package session

import "time"

// Stats is a read-only projection of a streaming call. It owns nothing and
// stores nothing: every value is recomputed on demand from the live capture
// and transport state, so there is no second source of truth to drift.
type Stats struct {
	SessionID   string        `json:"session_id"`
	Connected   bool          `json:"connected"`
	Recording   bool          `json:"recording"`
	Volume      float64       `json:"volume"`
	Elapsed     time.Duration `json:"elapsed"`
	BytesSent   int64         `json:"bytes_sent"`
	ChunksSent  int64         `json:"chunks_sent"`
	ChunksAcked int64         `json:"chunks_acked"`
}

type captureState struct {
	recording bool
	volume    float64
}

type transportState struct {
	open       bool
	bytesSent  int64
	chunksSent int64
}

// computeStats is the pure projection from component state to Stats.
func computeStats(sessionID string, startedAt time.Time, chunksAcked int64,
	cs captureState, tr transportState, now time.Time) Stats {

	var elapsed time.Duration
	if !startedAt.IsZero() {
		elapsed = now.Sub(startedAt)
	}
	return Stats{
		SessionID:   sessionID,
		Connected:   tr.open,
		Recording:   cs.recording,
		Volume:      cs.volume,
		Elapsed:     elapsed,
		BytesSent:   tr.bytesSent,
		ChunksSent:  tr.chunksSent,
		ChunksAcked: chunksAcked,
	}
}
