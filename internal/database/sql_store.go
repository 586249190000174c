// internal/database/sql_store.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"feedmesh/internal/models"
	"feedmesh/internal/utils"
)

// postRow is the SQL shape of a post. The full post, comments included, is
// kept as JSON in data; the other columns back the secondary indexes.
type postRow struct {
	ID        string `db:"id"`
	Community string `db:"community"`
	CreatedAt int64  `db:"created_at"`
	Data      string `db:"data"`
}

// SQLStore keeps posts in a single SQL table. It runs on sqlite for the
// local replica and on PostgreSQL when storage.type is postgres.
type SQLStore struct {
	DB     *sqlx.DB
	driver string
}

var _ Store = (*SQLStore)(nil)

// NewSQLiteStore opens (creating if needed) the sqlite file at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %v", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %v", err)
	}
	// One writer connection serializes transactions within the replica.
	db.SetMaxOpenConns(1)

	s := &SQLStore{DB: db, driver: "sqlite3"}
	if err := s.InitializeTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(ctx context.Context, connectionString string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %v", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLStore{DB: db, driver: "postgres"}
	if err := s.InitializeTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitializeTables creates the posts table and its indexes if they don't exist
func (s *SQLStore) InitializeTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			community TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_community ON posts (community)`,
	}
	for _, stmt := range statements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize posts table: %v", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close(ctx context.Context) error {
	return s.DB.Close()
}

// modelToRow converts a Post model to its table row.
func modelToRow(post *models.Post) (*postRow, error) {
	data, err := json.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("failed to encode post %s: %v", post.ID, err)
	}
	return &postRow{
		ID:        post.ID,
		Community: post.Community,
		CreatedAt: post.Timestamp,
		Data:      string(data),
	}, nil
}

// rowToModel converts a table row back to a Post model.
func rowToModel(row *postRow) (*models.Post, error) {
	var post models.Post
	if err := json.Unmarshal([]byte(row.Data), &post); err != nil {
		return nil, fmt.Errorf("invalid post row %s: %v", row.ID, err)
	}
	return normalize(&post), nil
}

// SavePost creates or replaces a post.
func (s *SQLStore) SavePost(ctx context.Context, post *models.Post) error {
	row, err := modelToRow(post)
	if err != nil {
		return err
	}
	_, err = s.DB.NamedExecContext(ctx, `
		INSERT INTO posts (id, community, created_at, data)
		VALUES (:id, :community, :created_at, :data)
		ON CONFLICT (id) DO UPDATE SET
			community = excluded.community,
			created_at = excluded.created_at,
			data = excluded.data`, row)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "Failed to save post", err)
	}
	return nil
}

// GetPost retrieves a post by its ID.
func (s *SQLStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var row postRow
	err := s.DB.GetContext(ctx, &row,
		s.DB.Rebind(`SELECT id, community, created_at, data FROM posts WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewPostNotFoundError(id)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to get post", err)
	}
	return rowToModel(&row)
}

// UpdatePost reads, mutates and writes back one post inside a transaction.
func (s *SQLStore) UpdatePost(ctx context.Context, id string, mutate func(*models.Post) error) (*models.Post, error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := `SELECT id, community, created_at, data FROM posts WHERE id = ?`
	if s.driver == "postgres" {
		query += ` FOR UPDATE`
	}

	var row postRow
	err = tx.GetContext(ctx, &row, tx.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewPostNotFoundError(id)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to read post", err)
	}

	post, err := rowToModel(&row)
	if err != nil {
		return nil, err
	}
	if err := mutate(post); err != nil {
		return nil, err
	}

	updated, err := modelToRow(post)
	if err != nil {
		return nil, err
	}
	if _, err := tx.NamedExecContext(ctx, `
		UPDATE posts SET community = :community, created_at = :created_at, data = :data
		WHERE id = :id`, updated); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to write post", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to commit post update", err)
	}
	return post, nil
}

// GetRecentPosts lists the newest posts first.
func (s *SQLStore) GetRecentPosts(ctx context.Context, limit int) ([]*models.Post, error) {
	var rows []postRow
	err := s.DB.SelectContext(ctx, &rows, s.DB.Rebind(`
		SELECT id, community, created_at, data FROM posts
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to list recent posts", err)
	}
	return rowsToModels(rows)
}

// GetPostsByCommunity lists the newest posts of one community first.
func (s *SQLStore) GetPostsByCommunity(ctx context.Context, community string, limit int) ([]*models.Post, error) {
	var rows []postRow
	err := s.DB.SelectContext(ctx, &rows, s.DB.Rebind(`
		SELECT id, community, created_at, data FROM posts
		WHERE community = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), community, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to list community posts", err)
	}
	return rowsToModels(rows)
}

func (s *SQLStore) CountPosts(ctx context.Context) (int, error) {
	var count int
	if err := s.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM posts`); err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "Failed to count posts", err)
	}
	return count, nil
}

func (s *SQLStore) DeletePostsBefore(ctx context.Context, cutoff int64) (int, error) {
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(`DELETE FROM posts WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "Failed to prune posts", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func rowsToModels(rows []postRow) ([]*models.Post, error) {
	posts := make([]*models.Post, 0, len(rows))
	for i := range rows {
		post, err := rowToModel(&rows[i])
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}
