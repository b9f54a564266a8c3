package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Client is the capture client configuration, loaded from a YAML file.
type Client struct {
	Server    ClientServerConfig `yaml:"server"`
	Audio     ClientAudioConfig  `yaml:"audio"`
	Reconnect ReconnectConfig    `yaml:"reconnect"`

	// SettleDelayMs is the pause between the channel opening and capture
	// starting.
	SettleDelayMs int `yaml:"settle_delay_ms"`
}

// ClientServerConfig locates the streaming server.
type ClientServerConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// ClientAudioConfig describes the microphone capture format.
type ClientAudioConfig struct {
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	ChunkIntervalMs  int    `yaml:"chunk_interval_ms"`
	Device           string `yaml:"device"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGainControl  bool   `yaml:"auto_gain_control"`
}

// ReconnectConfig tunes the channel's reconnection backoff.
type ReconnectConfig struct {
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultClient returns the configuration used when no file is given.
func DefaultClient() Client {
	return Client{
		Server: ClientServerConfig{URL: "ws://localhost:8080"},
		Audio: ClientAudioConfig{
			SampleRate:       16000,
			Channels:         1,
			ChunkIntervalMs:  100,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Reconnect: ReconnectConfig{
			BaseDelayMs: 1000,
			MaxAttempts: 5,
		},
		SettleDelayMs: 300,
	}
}

// LoadClient reads and validates a YAML configuration file, filling defaults
// for anything left unset.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the capture pipeline cannot run with.
func (c Client) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels)
	}
	if c.Audio.ChunkIntervalMs <= 0 {
		return fmt.Errorf("audio.chunk_interval_ms must be positive, got %d", c.Audio.ChunkIntervalMs)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative, got %d", c.Reconnect.MaxAttempts)
	}
	return nil
}

// SettleDelay returns the settle pause as a duration.
func (c Client) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// BaseDelay returns the reconnect base delay as a duration.
func (r ReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}
