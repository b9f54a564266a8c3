package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calldeck/calldeck/internal/protocol"
	"github.com/calldeck/calldeck/internal/transport"
)

// Transport is the session's view of the duplex server channel. One
// transport is constructed per call and discarded at teardown; sessions
// never share one.
type Transport interface {
	Connect(ctx context.Context, sessionID string) error
	Send(env protocol.Envelope) error
	SendBinary(chunk []byte) error
	Disconnect()
	State() transport.State
	On(t protocol.Type, fn transport.Handler) func()
	BytesSent() int64
	ChunksSent() int64
}

// Capture is the session's view of the microphone engine.
type Capture interface {
	Start(onChunk func([]byte)) error
	Stop()
	Recording() bool
	Volume() float64
}

// Options configures a Session.
type Options struct {
	// SettleDelay is the pause between the transport opening and capture
	// starting, letting the server finish session setup before audio
	// arrives.
	SettleDelay time.Duration

	Logger *zap.Logger
}

const defaultSettleDelay = 300 * time.Millisecond

// Session orchestrates one call: it mints the session identifier, sequences
// connect → stream → stop, and republishes server events to the UI layer.
type Session struct {
	newTransport func() Transport
	capture      Capture
	opts         Options
	logger       *zap.Logger

	// OnTranscript and OnFeedback, when set before Start, receive live
	// transcript lines and coaching feedback for display.
	OnTranscript func(TranscriptLine)
	OnFeedback   func(string)

	mu                   sync.Mutex
	sessionID            string
	channel              Transport
	removes              []func()
	streaming            bool
	startedAt            time.Time
	chunksAcked          int64
	transcriptionEnabled bool
	lastRTT              time.Duration
	lastErr              error

	transcript TranscriptLog
}

// New creates an idle session. newTransport is invoked once per Start so
// every call gets a fresh channel.
func New(newTransport func() Transport, capture Capture, opts Options) *Session {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{
		newTransport: newTransport,
		capture:      capture,
		opts:         opts,
		logger:       opts.Logger,
	}
}

// Start mints a fresh session identifier, connects the transport, waits for
// the connection to settle, and starts capture wired straight into the
// binary send path. Any failure aborts the whole sequence and leaves no
// partially started resources behind.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return fmt.Errorf("session already streaming")
	}
	s.lastErr = nil
	s.mu.Unlock()

	id := uuid.NewString()
	ch := s.newTransport()

	if err := ch.Connect(ctx, id); err != nil {
		err = fmt.Errorf("failed to open transport: %w", err)
		s.setError(err)
		return err
	}

	removes := s.registerHandlers(ch)

	select {
	case <-ctx.Done():
		s.teardown(ch, removes)
		return ctx.Err()
	case <-time.After(s.opts.SettleDelay):
	}

	if err := s.capture.Start(func(chunk []byte) {
		if err := ch.SendBinary(chunk); err != nil {
			s.logger.Warn("Failed to send audio chunk", zap.Error(err))
		}
	}); err != nil {
		s.teardown(ch, removes)
		err = fmt.Errorf("failed to start capture: %w", err)
		s.setError(err)
		return err
	}

	s.mu.Lock()
	s.sessionID = id
	s.channel = ch
	s.removes = removes
	s.streaming = true
	s.startedAt = time.Now()
	s.chunksAcked = 0
	s.mu.Unlock()

	s.transcript.Reset()
	s.logger.Info("Streaming started", zap.String("sessionID", id))
	return nil
}

// Stop tears the call down: capture first, then an intentional disconnect,
// then the identifier and counters are cleared. Safe to call repeatedly and
// before Start ever succeeded.
func (s *Session) Stop() {
	s.mu.Lock()
	ch := s.channel
	removes := s.removes
	id := s.sessionID
	s.channel = nil
	s.removes = nil
	s.sessionID = ""
	s.streaming = false
	s.startedAt = time.Time{}
	s.chunksAcked = 0
	s.transcriptionEnabled = false
	s.mu.Unlock()

	s.capture.Stop()
	for _, remove := range removes {
		remove()
	}
	if ch != nil {
		ch.Disconnect()
	}
	if id != "" {
		s.logger.Info("Streaming stopped", zap.String("sessionID", id))
	}
}

// registerHandlers wires server events into session state.
func (s *Session) registerHandlers(ch Transport) []func() {
	return []func(){
		ch.On(protocol.TypeConnection, func(env protocol.Envelope) {
			enabled := env.TranscriptionEnabled != nil && *env.TranscriptionEnabled
			s.mu.Lock()
			s.transcriptionEnabled = enabled
			s.mu.Unlock()
		}),
		ch.On(protocol.TypeAudioAck, func(env protocol.Envelope) {
			s.mu.Lock()
			if env.ChunksReceived > s.chunksAcked {
				s.chunksAcked = env.ChunksReceived
			}
			s.mu.Unlock()
		}),
		ch.On(protocol.TypeTranscription, func(env protocol.Envelope) {
			line := TranscriptLine{
				Text:       env.Transcript,
				Final:      env.IsFinal,
				Confidence: env.Confidence,
				At:         time.Now(),
			}
			s.transcript.Add(line)
			if s.OnTranscript != nil {
				s.OnTranscript(line)
			}
		}),
		ch.On(protocol.TypeFeedback, func(env protocol.Envelope) {
			if s.OnFeedback != nil {
				s.OnFeedback(env.Feedback)
			}
		}),
		ch.On(protocol.TypeStopped, func(protocol.Envelope) {
			// Graceful server-initiated teardown: equivalent to the user
			// stopping locally, not a crash.
			s.logger.Info("Server confirmed session teardown")
			s.Stop()
		}),
		ch.On(protocol.TypeError, func(env protocol.Envelope) {
			s.setError(fmt.Errorf("server error: %s", env.Message))
		}),
		ch.On(protocol.TypePong, func(env protocol.Envelope) {
			if env.Timestamp > 0 {
				rtt := time.Since(time.UnixMilli(env.Timestamp))
				s.mu.Lock()
				s.lastRTT = rtt
				s.mu.Unlock()
			}
		}),
	}
}

// teardown rolls back a partially started call.
func (s *Session) teardown(ch Transport, removes []func()) {
	s.capture.Stop()
	for _, remove := range removes {
		remove()
	}
	ch.Disconnect()
}

// Ping sends a timestamped liveness probe. The answering pong updates RTT;
// nothing ever blocks waiting for it.
func (s *Session) Ping() {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Send(protocol.NewPing()); err != nil {
		s.logger.Debug("Ping failed", zap.Error(err))
	}
}

// Streaming reports whether a call is in progress.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// TranscriptionEnabled reports whether the server advertised transcription
// for the current call.
func (s *Session) TranscriptionEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptionEnabled
}

// Transcript returns a copy of the client-visible transcript lines.
func (s *Session) Transcript() []TranscriptLine {
	return s.transcript.Lines()
}

// Err returns the session-level error slot: the single place capture and
// transport failures surface for the UI. A server error envelope lands here
// too without ending the session by itself.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastRTT returns the most recent ping round-trip measurement.
func (s *Session) LastRTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRTT
}

// Stats recomputes the read-only stats projection from live component state.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	id := s.sessionID
	startedAt := s.startedAt
	acked := s.chunksAcked
	ch := s.channel
	s.mu.Unlock()

	var tr transportState
	if ch != nil {
		tr = transportState{
			open:       ch.State() == transport.StateOpen,
			bytesSent:  ch.BytesSent(),
			chunksSent: ch.ChunksSent(),
		}
	}
	cs := captureState{
		recording: s.capture.Recording(),
		volume:    s.capture.Volume(),
	}
	return computeStats(id, startedAt, acked, cs, tr, time.Now())
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// NewSessionID mints an opaque call identifier. Exposed for tooling; Start
// mints its own.
func NewSessionID() string {
	return uuid.NewString()
}
