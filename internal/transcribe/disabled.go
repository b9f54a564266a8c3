package transcribe

import (
	"errors"
	"os"

	"go.uber.org/zap"
)

// ErrDisabled is returned when a bridge is requested from a disabled factory.
var ErrDisabled = errors.New("transcription is disabled")

// DisabledFactory is the factory used when no speech credentials are
// configured. Sessions still stream audio; they just never get transcripts.
type DisabledFactory struct{}

func (DisabledFactory) Enabled() bool { return false }

func (DisabledFactory) NewBridge(string) (Bridge, error) {
	return nil, ErrDisabled
}

// NewFactoryFromEnv picks the Google factory when application credentials
// are present and falls back to the disabled factory otherwise.
func NewFactoryFromEnv(config AudioConfig, logger *zap.Logger) Factory {
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		logger.Warn("GOOGLE_APPLICATION_CREDENTIALS not set, transcription disabled")
		return DisabledFactory{}
	}
	return NewGoogleFactory(config, logger)
}
