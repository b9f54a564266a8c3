package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server holds the streaming server configuration, loaded from the
// environment with optional .env support.
type Server struct {
	Port      string
	JWTSecret string

	// AckEvery is the chunk cadence of audio acknowledgements.
	AckEvery int

	SampleRate int
	Language   string

	// MongoURI enables the MongoDB call journal when non-empty.
	MongoURI string
}

// LoadServer reads the server configuration. A missing .env file is not an
// error; the process environment always wins.
func LoadServer(logger *zap.Logger) Server {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	return Server{
		Port:       envOr("PORT", "8080"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		AckEvery:   envIntOr("ACK_EVERY_CHUNKS", 10),
		SampleRate: envIntOr("AUDIO_SAMPLE_RATE", 16000),
		Language:   envOr("SPEECH_LANGUAGE", "en-US"),
		MongoURI:   os.Getenv("MONGODB_URI"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
