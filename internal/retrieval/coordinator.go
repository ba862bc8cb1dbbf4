package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"github.com/prompt-general/askslide/internal/embedding"
	"github.com/prompt-general/askslide/internal/vectorindex"
	"github.com/prompt-general/askslide/pkg/models"
)

const presignedURLTTL = time.Hour

// VectorIndex runs nearest-neighbor queries over a knowledge base
type VectorIndex interface {
	HasCollection(ctx context.Context, kbID string) (bool, error)
	Search(ctx context.Context, kbID string, vector []float32, topK int) ([]vectorindex.Hit, error)
}

// MetaStore resolves chunk and document records for result enrichment
type MetaStore interface {
	FindChunk(ctx context.Context, id string) (*models.Chunk, error)
	FindDocument(ctx context.Context, id string) (*models.Document, error)
}

// ObjectStore mints download links for page and image blobs
type ObjectStore interface {
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Embedder maps the query text to a vector
type Embedder interface {
	EmbedText(ctx context.Context, texts []string) []embedding.Result
}

// VectorCache remembers query vectors across requests
type VectorCache interface {
	Get(ctx context.Context, key string, target interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
}

// Coordinator answers similarity queries: embed the query, search the kb's
// collection, then enrich each raw hit from the metadata store.
type Coordinator struct {
	index    VectorIndex
	meta     MetaStore
	objects  ObjectStore
	embedder Embedder
	cache    VectorCache
	topK     int
}

// Config wires the retrieval coordinator's collaborators. Cache is optional.
type Config struct {
	Index    VectorIndex
	Meta     MetaStore
	Objects  ObjectStore
	Embedder Embedder
	Cache    VectorCache
	TopK     int
}

// NewCoordinator creates a retrieval coordinator
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Coordinator{
		index:    cfg.Index,
		meta:     cfg.Meta,
		objects:  cfg.Objects,
		embedder: cfg.Embedder,
		cache:    cfg.Cache,
		topK:     cfg.TopK,
	}
}

// Search returns up to topK enriched hits for the query, nearest-first.
// A knowledge base with no collection yields an empty result. Hits whose
// metadata record cannot be found are returned as degraded placeholders
// rather than dropped, so the ranking stays intact.
func (c *Coordinator) Search(ctx context.Context, kbID, query string, topK int) ([]models.Hit, error) {
	if query == "" {
		return nil, models.NewInputError("query must not be empty", nil)
	}
	if topK <= 0 {
		topK = c.topK
	}

	has, err := c.index.HasCollection(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if !has {
		return []models.Hit{}, nil
	}

	vector := c.queryVector(ctx, kbID, query)

	raw, err := c.index.Search(ctx, kbID, vector, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]models.Hit, 0, len(raw))
	for _, r := range raw {
		hits = append(hits, c.enrich(ctx, kbID, r))
	}
	return hits, nil
}

// queryVector embeds the query, consulting the cache first. Only real
// embeddings are cached; degraded ones are served but never stored.
func (c *Coordinator) queryVector(ctx context.Context, kbID, query string) []float32 {
	key := queryCacheKey(query)
	if c.cache != nil {
		var cached []float32
		if hit, err := c.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached
		} else if err != nil {
			log.Printf("Query vector cache lookup failed: %v", err)
		}
	}

	result := c.embedder.EmbedText(ctx, []string{query})[0]
	if result.Degraded {
		// A degraded query vector still produces a valid (if useless)
		// search; surface results rather than failing the request.
		log.Printf("Query embedding degraded for kb %s: %s", kbID, result.Reason)
		return result.Vector
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, result.Vector); err != nil {
			log.Printf("Query vector cache store failed: %v", err)
		}
	}
	return result.Vector
}

func queryCacheKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "qvec:" + hex.EncodeToString(sum[:])
}

// enrich fills in chunk text, filename and image link for one raw hit
func (c *Coordinator) enrich(ctx context.Context, kbID string, raw vectorindex.Hit) models.Hit {
	hit := models.Hit{
		ChunkID:    raw.ChunkID,
		DocumentID: raw.DocID,
		KBID:       kbID,
		Distance:   raw.Distance,
		Score:      vectorindex.Score(raw.Distance),
	}

	chunk, err := c.meta.FindChunk(ctx, raw.ChunkID)
	if err != nil {
		log.Printf("Chunk %s missing from metadata store: %v", raw.ChunkID, err)
		hit.Degraded = true
		return hit
	}

	hit.Kind = chunk.Kind
	hit.Ordinal = chunk.Ordinal
	hit.Text = chunk.Text
	hit.Metadata = chunk.Metadata
	if hit.DocumentID == "" {
		hit.DocumentID = chunk.DocumentID
	}

	if doc, err := c.meta.FindDocument(ctx, chunk.DocumentID); err == nil {
		hit.Filename = doc.Filename
	} else {
		log.Printf("Document %s missing for chunk %s: %v", chunk.DocumentID, chunk.ID, err)
	}

	if chunk.ImageKey != "" && c.objects != nil {
		if url, err := c.objects.PresignedURL(ctx, chunk.ImageKey, presignedURLTTL); err == nil {
			hit.ImageURL = url
		} else {
			log.Printf("Failed to presign %s: %v", chunk.ImageKey, err)
		}
	}
	return hit
}
