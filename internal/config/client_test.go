package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadClient_FillsDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  url: ws://example.test:9000
`)

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.Server.URL != "ws://example.test:9000" {
		t.Errorf("unexpected server url %q", cfg.Server.URL)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Errorf("expected default audio format, got %+v", cfg.Audio)
	}
	if cfg.Reconnect.MaxAttempts != 5 || cfg.Reconnect.BaseDelayMs != 1000 {
		t.Errorf("expected default reconnect policy, got %+v", cfg.Reconnect)
	}
}

func TestLoadClient_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  url: ws://example.test:9000
  token: abc
audio:
  sample_rate: 48000
  channels: 2
  chunk_interval_ms: 50
reconnect:
  base_delay_ms: 250
  max_attempts: 3
settle_delay_ms: 100
`)

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Channels != 2 || cfg.Audio.ChunkIntervalMs != 50 {
		t.Errorf("unexpected audio config %+v", cfg.Audio)
	}
	if cfg.Reconnect.BaseDelay().Milliseconds() != 250 {
		t.Errorf("unexpected base delay %v", cfg.Reconnect.BaseDelay())
	}
	if cfg.SettleDelay().Milliseconds() != 100 {
		t.Errorf("unexpected settle delay %v", cfg.SettleDelay())
	}
}

func TestLoadClient_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing url", "server:\n  url: \"\"\n"},
		{"bad sample rate", "audio:\n  sample_rate: -1\n"},
		{"bad chunk interval", "audio:\n  chunk_interval_ms: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := LoadClient(path); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestLoadClient_MissingFile(t *testing.T) {
	if _, err := LoadClient(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
