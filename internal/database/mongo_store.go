// internal/database/mongo_store.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"feedmesh/internal/models"
	"feedmesh/internal/utils"
)

// MongoStore keeps one document per post, comments embedded.
type MongoStore struct {
	Client *mongo.Client
	Posts  *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(connectCtx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	s := &MongoStore{
		Client: client,
		Posts:  client.Database(dbName).Collection("posts"),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.Posts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "community", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create post indexes: %v", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// SavePost replaces the whole document, inserting it if missing.
func (s *MongoStore) SavePost(ctx context.Context, post *models.Post) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.Posts.ReplaceOne(ctx, bson.M{"_id": post.ID}, post, opts)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "Failed to save post", err)
	}
	return nil
}

// GetPost retrieves a post by its ID.
func (s *MongoStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := s.Posts.FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewPostNotFoundError(id)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to get post", err)
	}
	return normalize(&post), nil
}

// UpdatePost is a read followed by a replace. Without a replica-set session
// the two steps are not isolated from other writers of the same database.
func (s *MongoStore) UpdatePost(ctx context.Context, id string, mutate func(*models.Post) error) (*models.Post, error) {
	post, err := s.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(post); err != nil {
		return nil, err
	}
	result, err := s.Posts.ReplaceOne(ctx, bson.M{"_id": id}, post)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to write post", err)
	}
	if result.MatchedCount == 0 {
		return nil, utils.NewPostNotFoundError(id)
	}
	return post, nil
}

func (s *MongoStore) GetRecentPosts(ctx context.Context, limit int) ([]*models.Post, error) {
	return s.find(ctx, bson.M{}, limit)
}

func (s *MongoStore) GetPostsByCommunity(ctx context.Context, community string, limit int) ([]*models.Post, error) {
	return s.find(ctx, bson.M{"community": community}, limit)
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, limit int) ([]*models.Post, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.Posts.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to query posts", err)
	}
	defer cursor.Close(ctx)

	posts := make([]*models.Post, 0, limit)
	for cursor.Next(ctx) {
		var post models.Post
		if err := cursor.Decode(&post); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "Failed to decode post", err)
		}
		posts = append(posts, normalize(&post))
	}
	if err := cursor.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Cursor iteration failed", err)
	}
	return posts, nil
}

func (s *MongoStore) CountPosts(ctx context.Context) (int, error) {
	n, err := s.Posts.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "Failed to count posts", err)
	}
	return int(n), nil
}

func (s *MongoStore) DeletePostsBefore(ctx context.Context, cutoff int64) (int, error) {
	result, err := s.Posts.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "Failed to prune posts", err)
	}
	return int(result.DeletedCount), nil
}
