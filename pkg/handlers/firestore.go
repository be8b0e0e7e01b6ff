package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore task store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreTaskStore keeps tasks as documents keyed by task ID.
type FirestoreTaskStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreTaskStore creates a FirestoreTaskStore. The client's lifecycle
// is managed by the caller.
func NewFirestoreTaskStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreTaskStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, errors.New("firestore collection name is required")
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreTaskStore initialized.")
	return &FirestoreTaskStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreTaskStore").Logger(),
	}, nil
}

// Create writes the task unless a document with its ID already exists, in
// which case the earlier delivery already created it.
func (s *FirestoreTaskStore) Create(ctx context.Context, task Task) error {
	_, err := s.client.Collection(s.collectionName).Doc(task.ID).Create(ctx, task)
	if status.Code(err) == codes.AlreadyExists {
		s.logger.Debug().Str("task_id", task.ID).Msg("Task already exists, treating create as done.")
		return nil
	}
	return classifyFirestoreError(err)
}

// Complete marks an existing task completed.
func (s *FirestoreTaskStore) Complete(ctx context.Context, id string, at time.Time) error {
	_, err := s.client.Collection(s.collectionName).Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: TaskStatusCompleted},
		{Path: "updated_at", Value: at},
	})
	if status.Code(err) == codes.NotFound {
		return ErrTaskNotFound
	}
	return classifyFirestoreError(err)
}

// Delete removes the task. Deleting a missing document succeeds.
func (s *FirestoreTaskStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.Collection(s.collectionName).Doc(id).Delete(ctx)
	return classifyFirestoreError(err)
}

// classifyFirestoreError maps gRPC status codes onto the engine taxonomy:
// transient codes are retryable, codes no retry can fix are permanent and the
// rest stay unclassified.
func classifyFirestoreError(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return queueengine.Retryable(fmt.Errorf("firestore: %w", err))
	case codes.NotFound, codes.PermissionDenied, codes.InvalidArgument, codes.FailedPrecondition:
		return queueengine.Permanent(fmt.Errorf("firestore: %w", err))
	default:
		return fmt.Errorf("firestore: %w", err)
	}
}
