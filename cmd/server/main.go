package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/calldeck/calldeck/internal/auth"
	"github.com/calldeck/calldeck/internal/coach"
	"github.com/calldeck/calldeck/internal/config"
	"github.com/calldeck/calldeck/internal/journal"
	"github.com/calldeck/calldeck/internal/metrics"
	"github.com/calldeck/calldeck/internal/registry"
	"github.com/calldeck/calldeck/internal/transcribe"
	"github.com/calldeck/calldeck/internal/wsserver"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.LoadServer(logger)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Persistence backend: MongoDB when configured, in-memory otherwise.
	var callJournal journal.Journal
	var mongoJournal *journal.Mongo
	if cfg.MongoURI != "" {
		var err error
		mongoJournal, err = journal.NewMongo(logger)
		if err != nil {
			logger.Fatal("Failed to connect call journal", zap.Error(err))
		}
		callJournal = mongoJournal
	} else {
		logger.Warn("MONGODB_URI not set, journaling calls in memory")
		callJournal = journal.NewMemory()
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	transcriber := transcribe.NewFactoryFromEnv(transcribe.AudioConfig{
		SampleRate: cfg.SampleRate,
		Language:   cfg.Language,
	}, logger)

	sessions := registry.New(registry.Options{
		Transcriber: transcriber,
		Journal:     callJournal,
		Coach:       coach.NewFromEnv(logger),
		Metrics:     m,
		AckEvery:    cfg.AckEvery,
		Logger:      logger,
	})

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if !verifier.Enabled() {
		logger.Warn("JWT_SECRET not set, accepting unauthenticated connections")
	}

	ws := wsserver.New(sessions, verifier, logger)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "calldeck-server",
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))
	e.GET("/ws/:session_id", ws.Handle)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Streaming server started",
		zap.String("port", cfg.Port),
		zap.Bool("transcription", transcriber.Enabled()),
		zap.Bool("auth", verifier.Enabled()))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	if mongoJournal != nil {
		if err := mongoJournal.Close(ctx); err != nil {
			logger.Error("Failed to close call journal", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
