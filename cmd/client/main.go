package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/calldeck/calldeck/internal/capture"
	"github.com/calldeck/calldeck/internal/config"
	"github.com/calldeck/calldeck/internal/session"
	"github.com/calldeck/calldeck/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to client YAML configuration")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.DefaultClient()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadClient(*configPath)
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
	}

	engine, err := capture.NewEngine(capture.Options{
		SampleRate:       cfg.Audio.SampleRate,
		Channels:         cfg.Audio.Channels,
		EchoCancellation: cfg.Audio.EchoCancellation,
		NoiseSuppression: cfg.Audio.NoiseSuppression,
		AutoGainControl:  cfg.Audio.AutoGainControl,
		ChunkInterval:    time.Duration(cfg.Audio.ChunkIntervalMs) * time.Millisecond,
		DeviceName:       cfg.Audio.Device,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize audio capture", zap.Error(err))
	}
	defer engine.Close()

	newTransport := func() session.Transport {
		return transport.NewChannel(transport.Options{
			ServerURL:   cfg.Server.URL,
			Token:       cfg.Server.Token,
			BaseDelay:   cfg.Reconnect.BaseDelay(),
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			Logger:      logger,
		})
	}

	call := session.New(newTransport, engine, session.Options{
		SettleDelay: cfg.SettleDelay(),
		Logger:      logger,
	})
	call.OnTranscript = func(line session.TranscriptLine) {
		marker := "…"
		if line.Final {
			marker = "✓"
		}
		fmt.Printf("%s %s\n", marker, line.Text)
	}
	call.OnFeedback = func(feedback string) {
		fmt.Printf("coach: %s\n", feedback)
	}
	engine.OnError = func(err error) {
		logger.Error("Capture device lost", zap.Error(err))
		call.Stop()
	}

	if err := call.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start streaming", zap.Error(err))
	}
	logger.Info("Streaming call audio",
		zap.String("server", cfg.Server.URL),
		zap.String("sessionID", call.Stats().SessionID))

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			call.Ping()
			stats := call.Stats()
			logger.Info("Streaming stats",
				zap.Duration("elapsed", stats.Elapsed),
				zap.Int64("chunksSent", stats.ChunksSent),
				zap.Int64("chunksAcked", stats.ChunksAcked),
				zap.Int64("bytesSent", stats.BytesSent),
				zap.Float64("volume", stats.Volume),
				zap.Duration("rtt", call.LastRTT()))
		case <-quit:
			logger.Info("Stopping call")
			call.Stop()
			return
		}
	}
}
