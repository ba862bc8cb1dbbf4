package metastore

import (
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/prompt-general/askslide/pkg/models"
)

const (
	documentsCollection = "documents"
	chunksCollection    = "document_chunks"
)

// Config holds the metadata store connection settings
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// MongoStore is durable key->record storage for document and chunk records
type MongoStore struct {
	client *mongo.Client
	docs   *mongo.Collection
	chunks *mongo.Collection
}

// NewMongoStore connects to MongoDB and verifies connectivity
func NewMongoStore(ctx context.Context, cfg Config) (*MongoStore, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, models.NewDependencyError("metastore", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, models.NewDependencyError("metastore", err)
	}

	db := client.Database(cfg.Database)
	store := &MongoStore{
		client: client,
		docs:   db.Collection(documentsCollection),
		chunks: db.Collection(chunksCollection),
	}

	if err := store.ensureIndexes(ctx); err != nil {
		log.Printf("Warning: failed to create metastore indexes: %v", err)
	}

	log.Printf("Connected to MongoDB database %q", cfg.Database)
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.chunks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "doc_id", Value: 1}}},
		{Keys: bson.D{{Key: "kb_id", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.docs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "kb_id", Value: 1}},
	})
	return err
}

// Ping verifies connectivity
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return models.NewDependencyError("metastore", err)
	}
	return nil
}

// Close disconnects from MongoDB
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// InsertDocument stores one document record keyed by its id
func (s *MongoStore) InsertDocument(ctx context.Context, doc *models.Document) error {
	if _, err := s.docs.InsertOne(ctx, doc); err != nil {
		return models.NewDependencyError("metastore", err)
	}
	return nil
}

// InsertChunk stores one chunk record keyed by its id
func (s *MongoStore) InsertChunk(ctx context.Context, chunk *models.Chunk) error {
	if _, err := s.chunks.InsertOne(ctx, chunk); err != nil {
		return models.NewDependencyError("metastore", err)
	}
	return nil
}

// FindDocument looks a document up by id
func (s *MongoStore) FindDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.docs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewDependencyError("metastore", err)
	}
	return &doc, nil
}

// FindChunk looks a chunk up by id
func (s *MongoStore) FindChunk(ctx context.Context, id string) (*models.Chunk, error) {
	var chunk models.Chunk
	err := s.chunks.FindOne(ctx, bson.M{"_id": id}).Decode(&chunk)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewDependencyError("metastore", err)
	}
	return &chunk, nil
}

// FindChunksByDocument returns all chunk records owned by a document,
// ordered by ordinal
func (s *MongoStore) FindChunksByDocument(ctx context.Context, docID string) ([]*models.Chunk, error) {
	cur, err := s.chunks.Find(ctx, bson.M{"doc_id": docID},
		options.Find().SetSort(bson.D{{Key: "ordinal", Value: 1}}))
	if err != nil {
		return nil, models.NewDependencyError("metastore", err)
	}
	defer cur.Close(ctx)

	var chunks []*models.Chunk
	if err := cur.All(ctx, &chunks); err != nil {
		return nil, models.NewDependencyError("metastore", err)
	}
	return chunks, nil
}

// UpdateDocumentStatus mutates a document's lifecycle status
func (s *MongoStore) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	res, err := s.docs.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": status, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return models.NewDependencyError("metastore", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document record
func (s *MongoStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.docs.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return models.NewDependencyError("metastore", err)
	}
	return nil
}

// DeleteChunksByDocument removes every chunk record owned by a document
func (s *MongoStore) DeleteChunksByDocument(ctx context.Context, docID string) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"doc_id": docID}); err != nil {
		return models.NewDependencyError("metastore", err)
	}
	return nil
}
