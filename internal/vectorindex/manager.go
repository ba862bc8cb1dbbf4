package vectorindex

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/prompt-general/askslide/pkg/models"
)

const (
	fieldChunkID   = "chunk_id"
	fieldDocID     = "doc_id"
	fieldEmbedding = "embedding"

	collectionPrefix = "kb_"
	idMaxLength      = 64
	ivfNList         = 128
	searchNProbe     = 10
)

// Hit is one raw nearest-neighbor result
type Hit struct {
	ChunkID  string
	DocID    string
	Distance float32
}

// Manager owns one vector collection per knowledge base: it lazily creates
// and loads collections, inserts vectors and runs nearest-neighbor queries.
// Safe for concurrent use; collection creation for the same kb id is
// serialized through a per-kb lock.
type Manager struct {
	mc client.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	dims  map[string]int
}

// NewManager connects to Milvus at the given address
func NewManager(ctx context.Context, address string) (*Manager, error) {
	mc, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, models.NewDependencyError("milvus", err)
	}
	log.Printf("Connected to Milvus at %s", address)
	return newManager(mc), nil
}

func newManager(mc client.Client) *Manager {
	return &Manager{
		mc:    mc,
		locks: make(map[string]*sync.Mutex),
		dims:  make(map[string]int),
	}
}

// Close releases the underlying client
func (m *Manager) Close() error {
	return m.mc.Close()
}

// CollectionName maps a knowledge base id to its collection. Hex encoding
// keeps the mapping deterministic and collision-free for arbitrary kb ids.
func CollectionName(kbID string) string {
	return collectionPrefix + hex.EncodeToString([]byte(kbID))
}

// Score converts an L2 distance to a similarity score in (0, 1], strictly
// decreasing in distance.
func Score(distance float32) float64 {
	return 1 / (1 + float64(distance))
}

func (m *Manager) kbLock(kbID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[kbID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[kbID] = l
	}
	return l
}

// EnsureCollection idempotently creates and loads the collection for kbID
// with the given embedding dimension. Concurrent callers for the same kb
// converge on exactly one collection. An existing collection with a
// different dimension is a hard error, never an implicit migration.
func (m *Manager) EnsureCollection(ctx context.Context, kbID string, dim int) error {
	if dim <= 0 {
		return models.NewConsistencyError("embedding dimension %d must be positive", dim)
	}

	l := m.kbLock(kbID)
	l.Lock()
	defer l.Unlock()

	name := CollectionName(kbID)

	has, err := m.mc.HasCollection(ctx, name)
	if err != nil {
		return models.NewDependencyError("milvus", err)
	}

	if has {
		existing, err := m.collectionDim(ctx, kbID)
		if err != nil {
			return err
		}
		if existing != dim {
			return models.NewConsistencyError(
				"collection for kb %s has dimension %d, insert requested %d", kbID, existing, dim)
		}
		if err := m.mc.LoadCollection(ctx, name, false); err != nil {
			return models.NewDependencyError("milvus", err)
		}
		return nil
	}

	schema := entity.NewSchema().
		WithName(name).
		WithDescription("embeddings for knowledge base "+kbID).
		WithField(entity.NewField().
			WithName(fieldChunkID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(idMaxLength).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName(fieldDocID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(idMaxLength)).
		WithField(entity.NewField().
			WithName(fieldEmbedding).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim)))

	if err := m.mc.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return models.NewDependencyError("milvus", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, ivfNList)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := m.mc.CreateIndex(ctx, name, fieldEmbedding, idx, false); err != nil {
		return models.NewDependencyError("milvus", err)
	}
	if err := m.mc.LoadCollection(ctx, name, false); err != nil {
		return models.NewDependencyError("milvus", err)
	}

	m.mu.Lock()
	m.dims[kbID] = dim
	m.mu.Unlock()

	log.Printf("Created collection %s (kb %s, dim %d)", name, kbID, dim)
	return nil
}

// collectionDim reads the embedding dimension of an existing collection,
// caching the answer per kb.
func (m *Manager) collectionDim(ctx context.Context, kbID string) (int, error) {
	m.mu.Lock()
	if d, ok := m.dims[kbID]; ok {
		m.mu.Unlock()
		return d, nil
	}
	m.mu.Unlock()

	desc, err := m.mc.DescribeCollection(ctx, CollectionName(kbID))
	if err != nil {
		return 0, models.NewDependencyError("milvus", err)
	}
	for _, f := range desc.Schema.Fields {
		if f.Name != fieldEmbedding {
			continue
		}
		d, err := strconv.Atoi(f.TypeParams[entity.TypeParamDim])
		if err != nil {
			return 0, fmt.Errorf("collection %s has unparseable dimension: %w", CollectionName(kbID), err)
		}
		m.mu.Lock()
		m.dims[kbID] = d
		m.mu.Unlock()
		return d, nil
	}
	return 0, models.NewConsistencyError("collection %s has no embedding field", CollectionName(kbID))
}

// HasCollection reports whether the kb has a collection yet. This is the
// only way to distinguish "no index yet" from "index with zero matches".
func (m *Manager) HasCollection(ctx context.Context, kbID string) (bool, error) {
	has, err := m.mc.HasCollection(ctx, CollectionName(kbID))
	if err != nil {
		return false, models.NewDependencyError("milvus", err)
	}
	return has, nil
}

// Insert writes vectors with their chunk and document ids. All three slices
// must match in length; a mismatch fails before any row is written.
func (m *Manager) Insert(ctx context.Context, kbID string, chunkIDs, docIDs []string, vectors [][]float32) error {
	if len(chunkIDs) != len(docIDs) || len(chunkIDs) != len(vectors) {
		return models.NewConsistencyError(
			"mismatched insert lengths: %d chunk ids, %d doc ids, %d vectors",
			len(chunkIDs), len(docIDs), len(vectors))
	}
	if len(chunkIDs) == 0 {
		return nil
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return models.NewConsistencyError("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}

	_, err := m.mc.Insert(ctx, CollectionName(kbID), "",
		entity.NewColumnVarChar(fieldChunkID, chunkIDs),
		entity.NewColumnVarChar(fieldDocID, docIDs),
		entity.NewColumnFloatVector(fieldEmbedding, dim, vectors),
	)
	if err != nil {
		return models.NewDependencyError("milvus", err)
	}
	return nil
}

// Search returns up to topK hits nearest-first by L2 distance. A kb with no
// collection yet yields an empty result, not an error.
func (m *Manager) Search(ctx context.Context, kbID string, vector []float32, topK int) ([]Hit, error) {
	has, err := m.HasCollection(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(searchNProbe)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	results, err := m.mc.Search(ctx, CollectionName(kbID), nil, "",
		[]string{fieldDocID},
		[]entity.Vector{entity.FloatVector(vector)},
		fieldEmbedding, entity.L2, topK, sp)
	if err != nil {
		return nil, models.NewDependencyError("milvus", err)
	}

	var hits []Hit
	for _, rs := range results {
		ids, ok := rs.IDs.(*entity.ColumnVarChar)
		if !ok {
			return nil, models.NewConsistencyError("unexpected id column type %T", rs.IDs)
		}
		docCol := findVarCharColumn(rs.Fields, fieldDocID)
		for i := 0; i < rs.ResultCount; i++ {
			h := Hit{ChunkID: ids.Data()[i], Distance: rs.Scores[i]}
			if docCol != nil && i < len(docCol.Data()) {
				h.DocID = docCol.Data()[i]
			}
			hits = append(hits, h)
		}
	}
	return hits, nil
}

// DeleteChunks removes the given chunk ids from the kb's collection
func (m *Manager) DeleteChunks(ctx context.Context, kbID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	has, err := m.HasCollection(ctx, kbID)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}

	quoted := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		quoted[i] = strconv.Quote(id)
	}
	expr := fmt.Sprintf("%s in [%s]", fieldChunkID, strings.Join(quoted, ", "))
	if err := m.mc.Delete(ctx, CollectionName(kbID), "", expr); err != nil {
		return models.NewDependencyError("milvus", err)
	}
	return nil
}

// DropCollection removes a knowledge base's collection entirely
func (m *Manager) DropCollection(ctx context.Context, kbID string) error {
	has, err := m.HasCollection(ctx, kbID)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	if err := m.mc.DropCollection(ctx, CollectionName(kbID)); err != nil {
		return models.NewDependencyError("milvus", err)
	}
	m.mu.Lock()
	delete(m.dims, kbID)
	m.mu.Unlock()
	return nil
}

func findVarCharColumn(cols []entity.Column, name string) *entity.ColumnVarChar {
	for _, c := range cols {
		if c.Name() != name {
			continue
		}
		if vc, ok := c.(*entity.ColumnVarChar); ok {
			return vc
		}
	}
	return nil
}
