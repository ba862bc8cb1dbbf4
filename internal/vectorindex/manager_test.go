package vectorindex

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prompt-general/askslide/pkg/models"
)

// fakeMilvus embeds client.Client so only the methods the Manager exercises
// need implementations.
type fakeMilvus struct {
	client.Client

	mu          sync.Mutex
	collections map[string]*entity.Schema
	loaded      map[string]bool
	created     atomic.Int64
	inserted    atomic.Int64
}

func newFakeMilvus() *fakeMilvus {
	return &fakeMilvus{
		collections: make(map[string]*entity.Schema),
		loaded:      make(map[string]bool),
	}
}

func (f *fakeMilvus) HasCollection(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeMilvus) CreateCollection(ctx context.Context, schema *entity.Schema, shards int32, opts ...client.CreateCollectionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[schema.CollectionName] = schema
	f.created.Add(1)
	return nil
}

func (f *fakeMilvus) CreateIndex(ctx context.Context, collName, fieldName string, idx entity.Index, async bool, opts ...client.IndexOption) error {
	return nil
}

func (f *fakeMilvus) LoadCollection(ctx context.Context, name string, async bool, opts ...client.LoadCollectionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded[name] = true
	return nil
}

func (f *fakeMilvus) DescribeCollection(ctx context.Context, name string) (*entity.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &entity.Collection{Name: name, Schema: f.collections[name]}, nil
}

func (f *fakeMilvus) Insert(ctx context.Context, collName, partitionName string, columns ...entity.Column) (entity.Column, error) {
	f.inserted.Add(1)
	return nil, nil
}

func TestCollectionName(t *testing.T) {
	a := CollectionName("kb-one")
	b := CollectionName("kb_one")
	assert.NotEqual(t, a, b, "distinct kb ids must never share a collection")
	assert.Equal(t, a, CollectionName("kb-one"), "mapping is deterministic")
	assert.Regexp(t, `^kb_[0-9a-f]+$`, a)
}

func TestScore_Monotonicity(t *testing.T) {
	distances := []float32{0, 0.1, 0.5, 1, 2, 10, 100}
	for i := 1; i < len(distances); i++ {
		assert.Greater(t, Score(distances[i-1]), Score(distances[i]))
	}
	assert.Equal(t, 1.0, Score(0))
	assert.Greater(t, Score(1e9), 0.0)
}

func TestEnsureCollection_ConcurrentIdempotence(t *testing.T) {
	fake := newFakeMilvus()
	m := newManager(fake)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.EnsureCollection(ctx, "kb-concurrent", 64)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int64(1), fake.created.Load(), "exactly one collection created")
}

func TestEnsureCollection_DimensionMismatch(t *testing.T) {
	fake := newFakeMilvus()
	m := newManager(fake)
	ctx := context.Background()

	require.NoError(t, m.EnsureCollection(ctx, "kb-a", 64))

	err := m.EnsureCollection(ctx, "kb-a", 128)
	require.Error(t, err)
	assert.True(t, models.IsConsistencyError(err))
	assert.Equal(t, int64(1), fake.created.Load(), "no implicit migration")
}

func TestEnsureCollection_RejectsBadDimension(t *testing.T) {
	m := newManager(newFakeMilvus())
	err := m.EnsureCollection(context.Background(), "kb-a", 0)
	require.Error(t, err)
	assert.True(t, models.IsConsistencyError(err))
}

func TestInsert_MismatchedLengthsFailAtomically(t *testing.T) {
	fake := newFakeMilvus()
	m := newManager(fake)
	ctx := context.Background()
	require.NoError(t, m.EnsureCollection(ctx, "kb-a", 2))

	err := m.Insert(ctx, "kb-a",
		[]string{"c1", "c2"},
		[]string{"d1"},
		[][]float32{{1, 0}, {0, 1}})
	require.Error(t, err)
	assert.True(t, models.IsConsistencyError(err))
	assert.Equal(t, int64(0), fake.inserted.Load(), "no partial rows on length mismatch")
}

func TestInsert_RejectsRaggedVectors(t *testing.T) {
	fake := newFakeMilvus()
	m := newManager(fake)
	ctx := context.Background()

	err := m.Insert(ctx, "kb-a",
		[]string{"c1", "c2"},
		[]string{"d1", "d2"},
		[][]float32{{1, 0}, {0, 1, 2}})
	require.Error(t, err)
	assert.True(t, models.IsConsistencyError(err))
	assert.Equal(t, int64(0), fake.inserted.Load())
}

func TestInsert_EmptyBatchIsNoop(t *testing.T) {
	fake := newFakeMilvus()
	m := newManager(fake)
	require.NoError(t, m.Insert(context.Background(), "kb-a", nil, nil, nil))
	assert.Equal(t, int64(0), fake.inserted.Load())
}

func TestSearch_MissingCollectionReturnsEmpty(t *testing.T) {
	m := newManager(newFakeMilvus())
	hits, err := m.Search(context.Background(), "kb-never-seen", []float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
