// internal/database/database.go
package database

import (
	"context"
	"fmt"

	"feedmesh/internal/config"
	"feedmesh/internal/models"
)

// Store is the per-replica durable table of posts with embedded comments,
// keyed by post id, with secondary access by creation time and community.
type Store interface {
	// SavePost inserts or replaces the post by id.
	SavePost(ctx context.Context, post *models.Post) error
	// GetPost returns a NOT_FOUND AppError when the id is unknown.
	GetPost(ctx context.Context, id string) (*models.Post, error)
	// UpdatePost runs a read-modify-write of one post atomically with
	// respect to other writers of the same replica.
	UpdatePost(ctx context.Context, id string, mutate func(*models.Post) error) (*models.Post, error)
	// GetRecentPosts lists posts newest first.
	GetRecentPosts(ctx context.Context, limit int) ([]*models.Post, error)
	GetPostsByCommunity(ctx context.Context, community string, limit int) ([]*models.Post, error)
	CountPosts(ctx context.Context) (int, error)
	// DeletePostsBefore removes posts created before cutoff (Unix ms).
	DeletePostsBefore(ctx context.Context, cutoff int64) (int, error)
	Close(ctx context.Context) error
}

// Open connects the backend selected by the storage config and makes sure
// its tables and indexes exist.
func Open(ctx context.Context, cfg *config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg.URI)
	case "mongo":
		return NewMongoStore(ctx, cfg.URI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// normalize gives decoded posts the same shape regardless of backend.
func normalize(post *models.Post) *models.Post {
	if post.Comments == nil {
		post.Comments = make([]*models.Comment, 0)
	}
	return post
}
