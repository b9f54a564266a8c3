package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type discriminates the envelopes exchanged over a call's WebSocket.
type Type string

// Supported envelope types
const (
	TypeConnection    Type = "connection"
	TypeAudio         Type = "audio"
	TypeAudioAck      Type = "audio_ack"
	TypeTranscription Type = "transcription"
	TypeFeedback      Type = "feedback"
	TypePing          Type = "ping"
	TypePong          Type = "pong"
	TypeStop          Type = "stop"
	TypeStopped       Type = "stopped"
	TypeError         Type = "error"
)

var knownTypes = map[Type]bool{
	TypeConnection:    true,
	TypeAudio:         true,
	TypeAudioAck:      true,
	TypeTranscription: true,
	TypeFeedback:      true,
	TypePing:          true,
	TypePong:          true,
	TypeStop:          true,
	TypeStopped:       true,
	TypeError:         true,
}

// Known reports whether t is a recognized envelope type.
func Known(t Type) bool {
	return knownTypes[t]
}

// Envelope is one JSON text frame on the wire. Exactly one recognized Type
// is set; the remaining fields are populated per type and omitted otherwise.
//
// Audio normally travels as raw binary frames, not as Envelopes. The Audio
// field exists only for the base64 JSON fallback path used by clients that
// cannot send binary frames.
type Envelope struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	// connection
	TranscriptionEnabled *bool `json:"transcription_enabled,omitempty"`

	// audio_ack
	ChunksReceived int64 `json:"chunks_received,omitempty"`
	TotalBytes     int64 `json:"total_bytes,omitempty"`

	// transcription
	Transcript string  `json:"transcript,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// feedback
	Feedback string `json:"feedback,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// ping/pong: unix milliseconds supplied by the client for RTT measurement
	Timestamp int64 `json:"timestamp,omitempty"`

	// audio (base64 JSON fallback)
	Audio string `json:"audio,omitempty"`
}

// Encode serializes the envelope to a JSON text frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a text frame into an Envelope. It returns an error for
// malformed JSON and for missing or unrecognized types; callers log and
// drop such frames rather than treating them as fatal.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type field")
	}
	if !Known(e.Type) {
		return Envelope{}, fmt.Errorf("unrecognized envelope type %q", e.Type)
	}
	return e, nil
}

// DecodeAudio extracts the raw bytes from a base64 audio fallback envelope.
// A data-URL prefix ("data:audio/webm;base64,....") is tolerated.
func (e Envelope) DecodeAudio() ([]byte, error) {
	payload := e.Audio
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid audio payload: %w", err)
	}
	return data, nil
}

// NewConnection builds the server's initial envelope for a freshly accepted
// session, advertising whether transcription is available.
func NewConnection(sessionID string, transcriptionEnabled bool) Envelope {
	return Envelope{
		Type:                 TypeConnection,
		SessionID:            sessionID,
		TranscriptionEnabled: &transcriptionEnabled,
	}
}

// NewAudioAck builds a cumulative chunk acknowledgement.
func NewAudioAck(chunksReceived, totalBytes int64) Envelope {
	return Envelope{
		Type:           TypeAudioAck,
		ChunksReceived: chunksReceived,
		TotalBytes:     totalBytes,
	}
}

// NewTranscription builds a transcript event envelope.
func NewTranscription(transcript string, isFinal bool, confidence float64) Envelope {
	return Envelope{
		Type:       TypeTranscription,
		Transcript: transcript,
		IsFinal:    isFinal,
		Confidence: confidence,
	}
}

// NewFeedback builds a coaching feedback envelope.
func NewFeedback(feedback string) Envelope {
	return Envelope{Type: TypeFeedback, Feedback: feedback}
}

// NewError builds an error envelope with a human-readable message.
func NewError(message string) Envelope {
	return Envelope{Type: TypeError, Message: message}
}

// NewPing builds a ping carrying the current time for RTT measurement.
func NewPing() Envelope {
	return Envelope{Type: TypePing, Timestamp: time.Now().UnixMilli()}
}

// NewPong answers a ping, echoing its timestamp.
func NewPong(timestamp int64) Envelope {
	return Envelope{Type: TypePong, Timestamp: timestamp}
}

// NewStop builds the client's graceful end request.
func NewStop() Envelope {
	return Envelope{Type: TypeStop}
}

// NewStopped confirms session teardown to the client.
func NewStopped(sessionID string) Envelope {
	return Envelope{Type: TypeStopped, SessionID: sessionID}
}
