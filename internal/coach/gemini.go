package coach

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel   = "gemini-2.0-flash"
	requestTimeout = 15 * time.Second

	systemPrompt = "You are a live sales coach listening to a call in progress. " +
		"Given one finalized line spoken on the call, reply with at most two short " +
		"sentences of actionable advice for the seller. If no advice applies, reply " +
		"with an empty string."
)

// Gemini produces coaching feedback through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGemini creates a Gemini coach. GEMINI_API_KEY must be set.
func NewGemini(logger *zap.Logger) (*Gemini, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  defaultModel,
		logger: logger,
	}, nil
}

func (g *Gemini) Feedback(ctx context.Context, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(systemPrompt, genai.RoleUser),
		genai.NewContentFromText(transcript, genai.RoleUser),
	}

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(0.4)),
		MaxOutputTokens: 128,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate feedback: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", nil
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	return text, nil
}

// NewFromEnv returns the Gemini coach when an API key is configured and the
// no-op coach otherwise.
func NewFromEnv(logger *zap.Logger) Coach {
	c, err := NewGemini(logger)
	if err != nil {
		logger.Warn("Coaching feedback disabled", zap.Error(err))
		return Nop{}
	}
	return c
}
