package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prompt-general/askslide/internal/embedding"
	"github.com/prompt-general/askslide/internal/objectstore"
	"github.com/prompt-general/askslide/internal/splitter"
	"github.com/prompt-general/askslide/pkg/models"
)

type fakeObjects struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	putErr  error
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{blobs: map[string][]byte{}}
}

func (f *fakeObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.blobs[key] = data
	return nil
}

func (f *fakeObjects) BulkDelete(ctx context.Context, keys []string) []objectstore.DeleteError {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.blobs, k)
		f.deleted = append(f.deleted, k)
	}
	return nil
}

type fakeMeta struct {
	mu      sync.Mutex
	docs    map[string]*models.Document
	chunks  map[string]*models.Chunk
	chunkEr error
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{docs: map[string]*models.Document{}, chunks: map[string]*models.Chunk{}}
}

func (f *fakeMeta) InsertDocument(ctx context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeMeta) InsertChunk(ctx context.Context, chunk *models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunkEr != nil {
		return f.chunkEr
	}
	f.chunks[chunk.ID] = chunk
	return nil
}

func (f *fakeMeta) FindDocument(ctx context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return doc, nil
}

func (f *fakeMeta) FindChunksByDocument(ctx context.Context, docID string) ([]*models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Chunk
	for _, ch := range f.chunks {
		if ch.DocumentID == docID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeMeta) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return models.ErrNotFound
	}
	doc.Status = status
	return nil
}

func (f *fakeMeta) DeleteDocument(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeMeta) DeleteChunksByDocument(ctx context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.chunks {
		if ch.DocumentID == docID {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *fakeMeta) chunksByOrdinal(docID string) []*models.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Chunk
	for _, ch := range f.chunks {
		if ch.DocumentID == docID {
			out = append(out, ch)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Ordinal < out[i].Ordinal {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

type fakeIndex struct {
	mu      sync.Mutex
	dims    map[string]int
	vectors map[string][]float32 // chunk id -> vector
	owners  map[string]string    // chunk id -> doc id
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{dims: map[string]int{}, vectors: map[string][]float32{}, owners: map[string]string{}}
}

func (f *fakeIndex) EnsureCollection(ctx context.Context, kbID string, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.dims[kbID]; ok && existing != dim {
		return models.NewConsistencyError(fmt.Sprintf("kb %s has dimension %d, got %d", kbID, existing, dim))
	}
	f.dims[kbID] = dim
	return nil
}

func (f *fakeIndex) Insert(ctx context.Context, kbID string, chunkIDs, docIDs []string, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range chunkIDs {
		f.vectors[id] = vectors[i]
		f.owners[id] = docIDs[i]
	}
	return nil
}

func (f *fakeIndex) DeleteChunks(ctx context.Context, kbID string, chunkIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range chunkIDs {
		delete(f.vectors, id)
		delete(f.owners, id)
	}
	return nil
}

func (f *fakeIndex) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vectors)
}

// fakeEmbedder returns small deterministic vectors and degrades inputs whose
// payload matches degradeOn.
type fakeEmbedder struct {
	dim       int
	degradeOn string
}

func (f *fakeEmbedder) embed(payload string) embedding.Result {
	if f.degradeOn != "" && strings.Contains(payload, f.degradeOn) {
		return embedding.Result{
			Vector:   make([]float32, f.dim),
			Degraded: true,
			Reason:   "model unreachable",
		}
	}
	vec := make([]float32, f.dim)
	for i := range vec {
		vec[i] = float32(len(payload)%7) + float32(i)
	}
	return embedding.Result{Vector: vec}
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, texts []string) []embedding.Result {
	out := make([]embedding.Result, len(texts))
	for i, t := range texts {
		out[i] = f.embed(t)
	}
	return out
}

func (f *fakeEmbedder) EmbedImages(ctx context.Context, images [][]byte) []embedding.Result {
	out := make([]embedding.Result, len(images))
	for i, img := range images {
		out[i] = f.embed(string(img))
	}
	return out
}

type capturedEvents struct {
	mu     sync.Mutex
	events []models.DocumentEvent
}

func (c *capturedEvents) Publish(ctx context.Context, event models.DocumentEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func newTestCoordinator(objects *fakeObjects, meta *fakeMeta, index *fakeIndex, embedder Embedder, pub Publisher) *Coordinator {
	return NewCoordinator(Config{
		Objects:   objects,
		Meta:      meta,
		Index:     index,
		Embedder:  embedder,
		Publisher: pub,
		ChunkSize: 16,
	})
}

func pagesSplit(pages []splitter.Page) splitFunc {
	return func(data []byte, filename string, chunkSize, chunkOverlap int, pageDPI float64) (*splitter.Result, error) {
		return &splitter.Result{Source: models.SourceTypePDF, Pages: pages}, nil
	}
}

func TestIngestTextDocument(t *testing.T) {
	objects := newFakeObjects()
	meta := newFakeMeta()
	index := newFakeIndex()
	events := &capturedEvents{}
	c := newTestCoordinator(objects, meta, index, &fakeEmbedder{dim: 4}, events)

	text := strings.Repeat("retrieval pipelines everywhere ", 4)
	receipt, err := c.IngestDocument(context.Background(), []byte(text), "notes.txt", "kb1", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.DocumentID)
	assert.Equal(t, models.StatusDone, receipt.Status)
	require.NotEmpty(t, receipt.Chunks)
	assert.Equal(t, len(receipt.Chunks), receipt.Indexed())

	// Vector count, chunk records and ordinals line up with the receipt.
	assert.Equal(t, len(receipt.Chunks), index.count())
	chunks := meta.chunksByOrdinal(receipt.DocumentID)
	require.Len(t, chunks, len(receipt.Chunks))
	for i, ch := range chunks {
		assert.Equal(t, i+1, ch.Ordinal)
		assert.Equal(t, models.ChunkKindText, ch.Kind)
		assert.NotEmpty(t, ch.Text)
	}

	doc, err := meta.FindDocument(context.Background(), receipt.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, doc.Status)
	assert.Contains(t, objects.blobs, doc.ObjectKey)

	require.Len(t, events.events, 1)
	assert.Equal(t, models.EventDocumentIngested, events.events[0].Type)
}

func TestIngestPagedDocumentOrdinals(t *testing.T) {
	objects := newFakeObjects()
	meta := newFakeMeta()
	index := newFakeIndex()
	c := newTestCoordinator(objects, meta, index, &fakeEmbedder{dim: 4}, nil)
	c.split = pagesSplit([]splitter.Page{
		{Number: 1, PNG: []byte("png-one"), Width: 100, Height: 80},
		{Number: 2, PNG: []byte("png-two"), Width: 100, Height: 80},
		{Number: 3, PNG: []byte("png-three"), Width: 100, Height: 80},
	})

	receipt, err := c.IngestDocument(context.Background(), []byte("%PDF"), "deck.pdf", "kb1", Options{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, receipt.Status)
	assert.Equal(t, 3, receipt.Indexed())

	chunks := meta.chunksByOrdinal(receipt.DocumentID)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i+1, ch.Ordinal)
		assert.Equal(t, models.ChunkKindPDFPage, ch.Kind)
		assert.Contains(t, objects.blobs, ch.ImageKey)
	}
	assert.Equal(t, 3, index.count())
}

func TestIngestPagedDocumentEmbeddingOutage(t *testing.T) {
	objects := newFakeObjects()
	meta := newFakeMeta()
	index := newFakeIndex()
	c := newTestCoordinator(objects, meta, index, &fakeEmbedder{dim: 4, degradeOn: "png-two"}, nil)
	c.split = pagesSplit([]splitter.Page{
		{Number: 1, PNG: []byte("png-one")},
		{Number: 2, PNG: []byte("png-two")},
		{Number: 3, PNG: []byte("png-three")},
	})

	receipt, err := c.IngestDocument(context.Background(), []byte("%PDF"), "deck.pdf", "kb1", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.DocumentID)
	assert.Equal(t, models.StatusPartialFailure, receipt.Status)
	assert.Equal(t, 2, receipt.Indexed())

	// Pages 1 and 3 are present in both stores; page 2 in neither.
	chunks := meta.chunksByOrdinal(receipt.DocumentID)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Ordinal)
	assert.Equal(t, 3, chunks[1].Ordinal)
	assert.Equal(t, 2, index.count())

	require.Len(t, receipt.Chunks, 3)
	failed := receipt.Chunks[1]
	assert.Equal(t, 2, failed.Ordinal)
	assert.False(t, failed.Indexed)
	assert.Contains(t, failed.Error, "degraded")
}

func TestIngestAllWindowsDegraded(t *testing.T) {
	objects := newFakeObjects()
	meta := newFakeMeta()
	index := newFakeIndex()
	c := newTestCoordinator(objects, meta, index, &fakeEmbedder{dim: 4, degradeOn: "flaky"}, nil)

	receipt, err := c.IngestDocument(context.Background(), []byte("flaky model day"), "note.txt", "kb1", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.DocumentID)
	assert.Equal(t, models.StatusPartialFailure, receipt.Status)
	assert.Equal(t, 0, receipt.Indexed())
	assert.Equal(t, 0, index.count())
	assert.Empty(t, meta.chunksByOrdinal(receipt.DocumentID))

	// Document record still exists so the upload can be retried by id.
	_, err = meta.FindDocument(context.Background(), receipt.DocumentID)
	require.NoError(t, err)
}

func TestIngestObjectStoreFailureAborts(t *testing.T) {
	objects := newFakeObjects()
	objects.putErr = errors.New("bucket offline")
	meta := newFakeMeta()
	c := newTestCoordinator(objects, meta, newFakeIndex(), &fakeEmbedder{dim: 4}, nil)

	_, err := c.IngestDocument(context.Background(), []byte("hello"), "note.txt", "kb1", Options{})
	require.Error(t, err)
	assert.Empty(t, meta.docs)
}

func TestIngestUnsupportedExtension(t *testing.T) {
	objects := newFakeObjects()
	meta := newFakeMeta()
	c := newTestCoordinator(objects, meta, newFakeIndex(), &fakeEmbedder{dim: 4}, nil)

	_, err := c.IngestDocument(context.Background(), []byte{0x00, 0x01}, "blob.bin", "kb1", Options{})
	require.Error(t, err)
	assert.True(t, models.IsInputError(err))
	assert.Empty(t, meta.docs)
}

func TestIngestChunkRecordFailureRollsBackVector(t *testing.T) {
	objects := newFakeObjects()
	meta := newFakeMeta()
	meta.chunkEr = errors.New("metastore write refused")
	index := newFakeIndex()
	c := newTestCoordinator(objects, meta, index, &fakeEmbedder{dim: 4}, nil)
	c.split = pagesSplit([]splitter.Page{{Number: 1, PNG: []byte("png-one")}})

	receipt, err := c.IngestDocument(context.Background(), []byte("%PDF"), "deck.pdf", "kb1", Options{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartialFailure, receipt.Status)
	assert.Equal(t, 0, receipt.Indexed())
	// The orphaned vector was rolled back.
	assert.Equal(t, 0, index.count())
}

func TestPurgeDocument(t *testing.T) {
	objects := newFakeObjects()
	meta := newFakeMeta()
	index := newFakeIndex()
	events := &capturedEvents{}
	c := newTestCoordinator(objects, meta, index, &fakeEmbedder{dim: 4}, events)
	c.split = pagesSplit([]splitter.Page{
		{Number: 1, PNG: []byte("png-one")},
		{Number: 2, PNG: []byte("png-two")},
	})

	receipt, err := c.IngestDocument(context.Background(), []byte("%PDF"), "deck.pdf", "kb1", Options{})
	require.NoError(t, err)
	require.Equal(t, 2, receipt.Indexed())

	require.NoError(t, c.PurgeDocument(context.Background(), "kb1", receipt.DocumentID))

	assert.Equal(t, 0, index.count())
	assert.Empty(t, meta.chunksByOrdinal(receipt.DocumentID))
	_, err = meta.FindDocument(context.Background(), receipt.DocumentID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, objects.blobs)

	last := events.events[len(events.events)-1]
	assert.Equal(t, models.EventDocumentPurged, last.Type)
	assert.Equal(t, 2, last.Chunks)
}

func TestPurgeUnknownDocument(t *testing.T) {
	c := newTestCoordinator(newFakeObjects(), newFakeMeta(), newFakeIndex(), &fakeEmbedder{dim: 4}, nil)
	err := c.PurgeDocument(context.Background(), "kb1", "no-such-doc")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestIngestImageSingleChunk(t *testing.T) {
	objects := newFakeObjects()
	meta := newFakeMeta()
	index := newFakeIndex()
	c := newTestCoordinator(objects, meta, index, &fakeEmbedder{dim: 4}, nil)
	c.split = func(data []byte, filename string, chunkSize, chunkOverlap int, pageDPI float64) (*splitter.Result, error) {
		return &splitter.Result{
			Source: models.SourceTypeImage,
			Pages:  []splitter.Page{{Number: 1, PNG: data, Width: 2, Height: 2}},
		}, nil
	}

	receipt, err := c.IngestImage(context.Background(), bytes.Repeat([]byte{0xAB}, 8), "photo.png", "kb1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, receipt.Status)
	require.Len(t, receipt.Chunks, 1)
	assert.Equal(t, models.ChunkKindImage, receipt.Chunks[0].Kind)

	chunks := meta.chunksByOrdinal(receipt.DocumentID)
	require.Len(t, chunks, 1)
	assert.Equal(t, models.ChunkKindImage, chunks[0].Kind)
}
