package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/calldeck/calldeck/internal/coach"
	"github.com/calldeck/calldeck/internal/journal"
	"github.com/calldeck/calldeck/internal/metrics"
	"github.com/calldeck/calldeck/internal/protocol"
	"github.com/calldeck/calldeck/internal/transcribe"
)

// ErrSessionExists is returned when a second connection claims an active
// session identifier.
var ErrSessionExists = errors.New("session already active")

// Sender delivers envelopes back to the connected client. The websocket
// layer implements it with its buffered write pump.
type Sender interface {
	Send(env protocol.Envelope) error
}

// Options configures a Registry.
type Options struct {
	Transcriber transcribe.Factory
	Journal     journal.Journal
	Coach       coach.Coach
	Metrics     *metrics.Metrics

	// AckEvery is the chunk cadence of audio acknowledgements.
	AckEvery int

	Logger *zap.Logger
}

const (
	defaultAckEvery = 10

	// progressEvery is the chunk cadence of server-side progress logging.
	progressEvery = 50
)

// Registry owns the set of active streaming sessions on the server. One
// Call per session identifier; a second claim on a live identifier is
// rejected.
type Registry struct {
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	calls map[string]*Call
}

func New(opts Options) *Registry {
	if opts.AckEvery <= 0 {
		opts.AckEvery = defaultAckEvery
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	if opts.Coach == nil {
		opts.Coach = coach.Nop{}
	}
	if opts.Transcriber == nil {
		opts.Transcriber = transcribe.DisabledFactory{}
	}
	return &Registry{
		opts:   opts,
		logger: opts.Logger,
		calls:  make(map[string]*Call),
	}
}

// Accept registers a new call for a session identifier and sends the
// connection envelope. The transcription bridge is started here; a bridge
// failure downgrades the call to audio-only rather than rejecting it.
func (r *Registry) Accept(ctx context.Context, sessionID string, sender Sender) (*Call, error) {
	call := &Call{
		sessionID: sessionID,
		sender:    sender,
		registry:  r,
		startedAt: time.Now(),
		logger:    r.logger.With(zap.String("sessionID", sessionID)),
	}

	r.mu.Lock()
	if _, ok := r.calls[sessionID]; ok {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	r.calls[sessionID] = call
	r.mu.Unlock()

	if err := r.opts.Journal.CallStarted(ctx, sessionID, call.startedAt); err != nil {
		call.logger.Error("Failed to journal call start", zap.Error(err))
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.ActiveSessions.Inc()
	}

	if r.opts.Transcriber.Enabled() {
		call.startTranscription(ctx)
	}

	if err := sender.Send(protocol.NewConnection(sessionID, call.transcriptionOn())); err != nil {
		call.logger.Warn("Failed to send connection envelope", zap.Error(err))
	}

	call.logger.Info("Session accepted",
		zap.Bool("transcription", call.transcriptionOn()))
	return call, nil
}

// Active reports whether a session identifier currently has a live call.
func (r *Registry) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.calls[sessionID]
	return ok
}

func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	delete(r.calls, sessionID)
	r.mu.Unlock()
}

// Call is the server-side state of one streaming session.
type Call struct {
	sessionID string
	sender    Sender
	registry  *Registry
	startedAt time.Time
	logger    *zap.Logger

	mu     sync.Mutex
	bridge transcribe.Bridge
	chunks int64
	bytes  int64

	finalize sync.Once
}

func (c *Call) startTranscription(ctx context.Context) {
	bridge, err := c.registry.opts.Transcriber.NewBridge(c.sessionID)
	if err != nil {
		c.logger.Error("Failed to create transcription bridge", zap.Error(err))
		return
	}
	if err := bridge.Start(ctx, c.onTranscription, c.onTranscriptionError); err != nil {
		c.logger.Error("Failed to start transcription bridge", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.bridge = bridge
	c.mu.Unlock()
}

func (c *Call) transcriptionOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bridge != nil
}

// HandleAudio ingests one PCM chunk: counts it, forwards it to the
// transcription bridge, and acknowledges on the configured cadence.
func (c *Call) HandleAudio(data []byte) {
	c.mu.Lock()
	c.chunks++
	c.bytes += int64(len(data))
	chunks := c.chunks
	bytes := c.bytes
	bridge := c.bridge
	c.mu.Unlock()

	if m := c.registry.opts.Metrics; m != nil {
		m.AudioChunks.Inc()
		m.AudioBytes.Add(float64(len(data)))
	}

	if bridge != nil {
		if err := bridge.Write(data); err != nil {
			c.logger.Warn("Failed to forward audio to transcription", zap.Error(err))
		}
	}

	if chunks%int64(c.registry.opts.AckEvery) == 0 {
		if err := c.sender.Send(protocol.NewAudioAck(chunks, bytes)); err != nil {
			c.logger.Warn("Failed to send audio ack", zap.Error(err))
		} else if m := c.registry.opts.Metrics; m != nil {
			m.AcksSent.Inc()
		}
	}

	if chunks%progressEvery == 0 {
		c.logger.Info("Audio streaming in progress",
			zap.Int64("chunks", chunks),
			zap.Int64("bytes", bytes))
	}
}

// HandlePing answers a liveness probe, echoing the client timestamp so the
// client can measure round-trip time.
func (c *Call) HandlePing(env protocol.Envelope) {
	if err := c.sender.Send(protocol.NewPong(env.Timestamp)); err != nil {
		c.logger.Debug("Failed to send pong", zap.Error(err))
	}
}

// HandleStop finalizes the call on an explicit stop request and confirms
// with a stopped envelope.
func (c *Call) HandleStop(ctx context.Context) {
	c.end(ctx, "stop", true)
}

// HandleDisconnect finalizes the call when the connection drops without a
// stop. There is no peer left to confirm to.
func (c *Call) HandleDisconnect(ctx context.Context) {
	c.end(ctx, "disconnect", false)
}

// end is the single teardown path. Stop and disconnect can race; the first
// one in wins and the other is a no-op.
func (c *Call) end(ctx context.Context, reason string, confirm bool) {
	c.finalize.Do(func() {
		c.mu.Lock()
		bridge := c.bridge
		c.bridge = nil
		chunks := c.chunks
		bytes := c.bytes
		c.mu.Unlock()

		if bridge != nil {
			if err := bridge.Close(); err != nil {
				c.logger.Warn("Failed to close transcription bridge", zap.Error(err))
			}
		}

		if confirm {
			if err := c.sender.Send(protocol.NewStopped(c.sessionID)); err != nil {
				c.logger.Warn("Failed to send stopped envelope", zap.Error(err))
			}
		}

		summary := journal.Summary{
			StartedAt: c.startedAt,
			EndedAt:   time.Now(),
			Chunks:    chunks,
			Bytes:     bytes,
			Reason:    reason,
		}
		if err := c.registry.opts.Journal.CallEnded(ctx, c.sessionID, summary); err != nil {
			c.logger.Error("Failed to journal call end", zap.Error(err))
		}

		if m := c.registry.opts.Metrics; m != nil {
			m.ActiveSessions.Dec()
		}
		c.registry.remove(c.sessionID)

		c.logger.Info("Session ended",
			zap.String("reason", reason),
			zap.Int64("chunks", chunks),
			zap.Int64("bytes", bytes))
	})
}

// onTranscription relays a recognition event to the client, journals final
// lines, and asks the coach for feedback on them.
func (c *Call) onTranscription(result transcribe.Result) {
	env := protocol.NewTranscription(result.Transcript, result.IsFinal, result.Confidence)
	if err := c.sender.Send(env); err != nil {
		c.logger.Warn("Failed to send transcription", zap.Error(err))
	}
	if m := c.registry.opts.Metrics; m != nil {
		m.TranscriptObserved(result.IsFinal)
	}

	if !result.IsFinal {
		return
	}

	line := journal.Line{
		Text:       result.Transcript,
		Final:      true,
		Confidence: result.Confidence,
		At:         time.Now(),
	}
	if err := c.registry.opts.Journal.TranscriptLine(context.Background(), c.sessionID, line); err != nil {
		c.logger.Error("Failed to journal transcript line", zap.Error(err))
	}

	go c.requestFeedback(result.Transcript)
}

func (c *Call) requestFeedback(transcript string) {
	feedback, err := c.registry.opts.Coach.Feedback(context.Background(), transcript)
	if err != nil {
		c.logger.Warn("Failed to generate coaching feedback", zap.Error(err))
		return
	}
	if feedback == "" {
		return
	}
	if err := c.sender.Send(protocol.NewFeedback(feedback)); err != nil {
		c.logger.Warn("Failed to send coaching feedback", zap.Error(err))
	}
}

// onTranscriptionError surfaces an engine failure to the client without
// ending the call; audio keeps streaming.
func (c *Call) onTranscriptionError(err error) {
	c.logger.Error("Transcription stream failed", zap.Error(err))
	if sendErr := c.sender.Send(protocol.NewError("transcription unavailable: " + err.Error())); sendErr != nil {
		c.logger.Warn("Failed to send error envelope", zap.Error(sendErr))
	}
}
