package transcribe

import "context"

// Result is one recognition event from the speech engine. Interim results
// refine the same utterance until a final one closes it.
type Result struct {
	Transcript string
	IsFinal    bool
	Confidence float64
}

// Bridge streams one session's audio into a speech engine and relays
// recognition events back. One bridge per session; never shared.
type Bridge interface {
	// Start opens the upstream recognition stream. onResult and onError are
	// invoked from the bridge's receiver goroutine until Close.
	Start(ctx context.Context, onResult func(Result), onError func(error)) error

	// Write forwards a raw PCM chunk to the engine.
	Write(data []byte) error

	// Close signals end of audio and releases the upstream stream. Safe to
	// call more than once.
	Close() error
}

// Factory creates bridges. A disabled factory reports Enabled false and the
// caller skips transcription for the session entirely.
type Factory interface {
	Enabled() bool
	NewBridge(sessionID string) (Bridge, error)
}
