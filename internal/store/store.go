// Package store persists sessions, their accumulated classification
// results, and pending upload blobs. Results are append-only and listed in
// insertion order; the pipeline itself never touches the store.
package store

import (
	"context"
	"time"

	"github.com/canopylabs/cropclass/internal/model"
)

// Store defines the persistence interface for the classification service.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context) (*model.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Results
	AppendResult(ctx context.Context, sessionID string, result *model.ClassificationResult) error
	ListResults(ctx context.Context, sessionID string) ([]*model.ClassificationResult, error)
	GetResult(ctx context.Context, resultID string) (*model.ClassificationResult, error)

	// Uploads
	PutUpload(ctx context.Context, filename, mimeType string, data []byte, ttl time.Duration) (string, error)
	GetUpload(ctx context.Context, ref string) (*model.Upload, error)
	DeleteExpiredUploads(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
