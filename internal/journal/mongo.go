package journal

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Mongo persists call records and transcript lines to MongoDB.
type Mongo struct {
	client      *mongo.Client
	calls       *mongo.Collection
	transcripts *mongo.Collection
	logger      *zap.Logger
}

// NewMongo connects using MONGODB_URI and MONGODB_DATABASE from the
// environment.
func NewMongo(logger *zap.Logger) (*Mongo, error) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	dbName := os.Getenv("MONGODB_DATABASE")
	if dbName == "" {
		dbName = "calldeck"
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Minute).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Successfully connected to MongoDB",
		zap.String("database", dbName))

	db := client.Database(dbName)
	return &Mongo{
		client:      client,
		calls:       db.Collection("calls"),
		transcripts: db.Collection("transcripts"),
		logger:      logger,
	}, nil
}

func (m *Mongo) CallStarted(ctx context.Context, sessionID string, at time.Time) error {
	_, err := m.calls.InsertOne(ctx, bson.M{
		"session_id": sessionID,
		"started_at": at,
		"status":     "active",
	})
	if err != nil {
		return fmt.Errorf("failed to record call start: %w", err)
	}
	return nil
}

func (m *Mongo) TranscriptLine(ctx context.Context, sessionID string, line Line) error {
	_, err := m.transcripts.InsertOne(ctx, bson.M{
		"session_id": sessionID,
		"text":       line.Text,
		"final":      line.Final,
		"confidence": line.Confidence,
		"at":         line.At,
	})
	if err != nil {
		return fmt.Errorf("failed to record transcript line: %w", err)
	}
	return nil
}

func (m *Mongo) CallEnded(ctx context.Context, sessionID string, summary Summary) error {
	_, err := m.calls.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{
			"ended_at": summary.EndedAt,
			"chunks":   summary.Chunks,
			"bytes":    summary.Bytes,
			"reason":   summary.Reason,
			"status":   "completed",
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to record call end: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		m.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	return nil
}
