package transcribe

import (
	"context"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
)

// AudioConfig describes the PCM format the client streams.
type AudioConfig struct {
	SampleRate int
	Language   string
}

// GoogleFactory creates bridges backed by Google Cloud Speech streaming
// recognition. Credentials come from the ambient
// GOOGLE_APPLICATION_CREDENTIALS environment.
type GoogleFactory struct {
	config AudioConfig
	logger *zap.Logger
}

func NewGoogleFactory(config AudioConfig, logger *zap.Logger) *GoogleFactory {
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	if config.Language == "" {
		config.Language = "en-US"
	}
	return &GoogleFactory{config: config, logger: logger}
}

func (f *GoogleFactory) Enabled() bool { return true }

func (f *GoogleFactory) NewBridge(sessionID string) (Bridge, error) {
	return &googleBridge{
		sessionID: sessionID,
		config:    f.config,
		logger:    f.logger.With(zap.String("sessionID", sessionID)),
	}, nil
}

type googleBridge struct {
	sessionID string
	config    AudioConfig
	logger    *zap.Logger

	mu     sync.Mutex
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	closed bool
}

func (g *googleBridge) Start(ctx context.Context, onResult func(Result), onError func(error)) error {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	// Interim results on: the client renders the utterance as it refines.
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(g.config.SampleRate),
					LanguageCode:    g.config.Language,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return fmt.Errorf("failed to send streaming config: %w", err)
	}

	g.mu.Lock()
	g.client = client
	g.stream = stream
	g.mu.Unlock()

	go g.receiveResults(onResult, onError)
	return nil
}

func (g *googleBridge) receiveResults(onResult func(Result), onError func(error)) {
	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			g.mu.Lock()
			closed := g.closed
			g.mu.Unlock()
			if !closed {
				onError(fmt.Errorf("speech stream receive failed: %w", err))
			}
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			onResult(Result{
				Transcript: alt.Transcript,
				IsFinal:    result.IsFinal,
				Confidence: float64(alt.Confidence),
			})
		}
	}
}

func (g *googleBridge) Write(data []byte) error {
	g.mu.Lock()
	stream := g.stream
	closed := g.closed
	g.mu.Unlock()

	if stream == nil || closed {
		return fmt.Errorf("speech stream not started")
	}
	if len(data) == 0 {
		return nil
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (g *googleBridge) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	stream := g.stream
	client := g.client
	g.mu.Unlock()

	if stream != nil {
		if err := stream.CloseSend(); err != nil {
			g.logger.Warn("Failed to close speech send stream", zap.Error(err))
		}
	}
	if client != nil {
		return client.Close()
	}
	return nil
}
