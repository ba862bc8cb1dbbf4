package ingest

import (
	"context"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/prompt-general/askslide/internal/embedding"
	"github.com/prompt-general/askslide/internal/objectstore"
	"github.com/prompt-general/askslide/internal/splitter"
	"github.com/prompt-general/askslide/pkg/models"
)

// ObjectStore is the blob storage the coordinator persists originals and
// page images to
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	BulkDelete(ctx context.Context, keys []string) []objectstore.DeleteError
}

// MetaStore is the record storage for documents and chunks
type MetaStore interface {
	InsertDocument(ctx context.Context, doc *models.Document) error
	InsertChunk(ctx context.Context, chunk *models.Chunk) error
	FindDocument(ctx context.Context, id string) (*models.Document, error)
	FindChunksByDocument(ctx context.Context, docID string) ([]*models.Chunk, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error
	DeleteDocument(ctx context.Context, id string) error
	DeleteChunksByDocument(ctx context.Context, docID string) error
}

// VectorIndex is the per-kb vector collection manager
type VectorIndex interface {
	EnsureCollection(ctx context.Context, kbID string, dim int) error
	Insert(ctx context.Context, kbID string, chunkIDs, docIDs []string, vectors [][]float32) error
	DeleteChunks(ctx context.Context, kbID string, chunkIDs []string) error
}

// Embedder maps batches of text or images to vectors, one result per input
type Embedder interface {
	EmbedText(ctx context.Context, texts []string) []embedding.Result
	EmbedImages(ctx context.Context, images [][]byte) []embedding.Result
}

// TaskTracker records per-task progress for polling callers
type TaskTracker interface {
	Start(ctx context.Context, taskID string, total int) error
	IncrProcessed(ctx context.Context, taskID string) error
	SetStatus(ctx context.Context, taskID, status, message string) error
	Fail(ctx context.Context, taskID, message string) error
}

// Publisher emits document lifecycle events
type Publisher interface {
	Publish(ctx context.Context, event models.DocumentEvent) error
}

// Options tunes one ingestion call
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TaskID       string
}

// splitFunc turns a raw file into pages or text windows
type splitFunc func(data []byte, filename string, chunkSize, chunkOverlap int, pageDPI float64) (*splitter.Result, error)

// Coordinator drives one document through split -> embed -> index -> persist,
// absorbing late-stage failures as per-chunk outcomes.
type Coordinator struct {
	objects      ObjectStore
	meta         MetaStore
	index        VectorIndex
	embedder     Embedder
	tracker      TaskTracker
	publisher    Publisher
	split        splitFunc
	chunkSize    int
	chunkOverlap int
	pageDPI      float64
}

// Config wires the coordinator's collaborators and defaults
type Config struct {
	Objects      ObjectStore
	Meta         MetaStore
	Index        VectorIndex
	Embedder     Embedder
	Tracker      TaskTracker
	Publisher    Publisher
	ChunkSize    int
	ChunkOverlap int
	PageDPI      float64
}

// NewCoordinator creates an ingestion coordinator. Tracker and Publisher are
// optional.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	return &Coordinator{
		objects:      cfg.Objects,
		meta:         cfg.Meta,
		index:        cfg.Index,
		embedder:     cfg.Embedder,
		tracker:      cfg.Tracker,
		publisher:    cfg.Publisher,
		split:        splitFile,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		pageDPI:      cfg.PageDPI,
	}
}

func splitFile(data []byte, filename string, chunkSize, chunkOverlap int, pageDPI float64) (*splitter.Result, error) {
	sp, err := splitter.New(chunkSize, chunkOverlap, pageDPI)
	if err != nil {
		return nil, err
	}
	return sp.Split(data, filename)
}

// IngestDocument runs the full pipeline for one file. Once the raw object
// has landed, a document id is always returned, even with zero successfully
// indexed chunks.
func (c *Coordinator) IngestDocument(ctx context.Context, data []byte, filename, kbID string, opts Options) (*models.Receipt, error) {
	docID := uuid.NewString()
	log.Printf("Ingesting %s into kb %s (doc %s)", filename, kbID, docID)

	chunkSize := c.chunkSize
	if opts.ChunkSize > 0 {
		chunkSize = opts.ChunkSize
	}
	chunkOverlap := c.chunkOverlap
	if opts.ChunkOverlap > 0 && opts.ChunkOverlap < chunkSize {
		chunkOverlap = opts.ChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}

	// Step 1: the raw object must land before anything else; failure here
	// aborts with no document created.
	rawKey := rawObjectKey(kbID, docID, filename)
	if err := c.objects.Put(ctx, rawKey, data, contentTypeFor(filename)); err != nil {
		c.trackFail(ctx, opts.TaskID, fmt.Sprintf("object store rejected %s: %v", filename, err))
		return nil, err
	}

	// Step 2: split. Malformed or unsupported input is fatal to the call.
	res, err := c.split(data, filename, chunkSize, chunkOverlap, c.pageDPI)
	if err != nil {
		c.trackFail(ctx, opts.TaskID, fmt.Sprintf("failed to split %s: %v", filename, err))
		return nil, err
	}

	doc := &models.Document{
		ID:         docID,
		KBID:       kbID,
		Filename:   filename,
		SourceType: res.Source,
		ObjectKey:  rawKey,
		Status:     models.StatusProcessing,
		Metadata:   res.Metadata,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := c.meta.InsertDocument(ctx, doc); err != nil {
		// The raw object exists; surface a document anyway so the upload is
		// retryable by id.
		log.Printf("Failed to persist document record %s: %v", docID, err)
		receipt := &models.Receipt{DocumentID: docID, Status: models.StatusPartialFailure}
		c.finish(ctx, receipt, doc, opts.TaskID)
		return receipt, nil
	}

	var outcomes []models.ChunkOutcome
	if len(res.Pages) > 0 {
		outcomes = c.ingestPages(ctx, doc, res.Pages)
	} else {
		outcomes = c.ingestWindows(ctx, doc, res.Windows)
	}

	receipt := &models.Receipt{DocumentID: docID, Chunks: outcomes, Status: receiptStatus(outcomes)}
	c.finish(ctx, receipt, doc, opts.TaskID)
	return receipt, nil
}

// IngestImage ingests a standalone image as a single-chunk document
func (c *Coordinator) IngestImage(ctx context.Context, data []byte, filename, kbID string) (*models.Receipt, error) {
	return c.IngestDocument(ctx, data, filename, kbID, Options{})
}

// ingestPages commits each page independently: embed, ensure the collection,
// insert the single vector, persist the page image and chunk record. A
// failure on page k never rolls back earlier pages.
func (c *Coordinator) ingestPages(ctx context.Context, doc *models.Document, pages []splitter.Page) []models.ChunkOutcome {
	kind := models.ChunkKindPDFPage
	if doc.SourceType == models.SourceTypeImage {
		kind = models.ChunkKindImage
	}

	outcomes := make([]models.ChunkOutcome, 0, len(pages))
	for _, page := range pages {
		outcome := models.ChunkOutcome{
			ChunkID: uuid.NewString(),
			Ordinal: page.Number,
			Kind:    kind,
		}

		results := c.embedder.EmbedImages(ctx, [][]byte{page.PNG})
		result := results[0]
		if result.Degraded {
			// A placeholder vector is not worth indexing; skip the page so
			// it lands in neither store.
			log.Printf("Skipping page %d of doc %s: embedding degraded: %s", page.Number, doc.ID, result.Reason)
			outcome.Error = "embedding degraded: " + result.Reason
			outcomes = append(outcomes, outcome)
			continue
		}

		if err := c.indexAndPersistPage(ctx, doc, page, kind, outcome.ChunkID, result.Vector); err != nil {
			log.Printf("Page %d of doc %s failed: %v", page.Number, doc.ID, err)
			outcome.Error = err.Error()
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome.Indexed = true
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (c *Coordinator) indexAndPersistPage(ctx context.Context, doc *models.Document, page splitter.Page, kind models.ChunkKind, chunkID string, vector []float32) error {
	if err := c.index.EnsureCollection(ctx, doc.KBID, len(vector)); err != nil {
		return err
	}

	imageKey := pageObjectKey(doc.KBID, doc.ID, page.Number)
	if err := c.objects.Put(ctx, imageKey, page.PNG, "image/png"); err != nil {
		return err
	}

	if err := c.index.Insert(ctx, doc.KBID, []string{chunkID}, []string{doc.ID}, [][]float32{vector}); err != nil {
		return err
	}

	chunk := &models.Chunk{
		ID:         chunkID,
		DocumentID: doc.ID,
		KBID:       doc.KBID,
		Kind:       kind,
		Ordinal:    page.Number,
		Text:       page.Text,
		ImageKey:   imageKey,
		Metadata: map[string]any{
			"page_number": page.Number,
			"width":       page.Width,
			"height":      page.Height,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := c.meta.InsertChunk(ctx, chunk); err != nil {
		// Roll the vector back so the chunk exists in both stores or neither.
		if derr := c.index.DeleteChunks(ctx, doc.KBID, []string{chunkID}); derr != nil {
			log.Printf("Failed to roll back vector for chunk %s: %v", chunkID, derr)
		}
		return err
	}
	return nil
}

// ingestWindows embeds all windows in one batched call and bulk-inserts the
// vectors; the whole batch is cheap to retry so this path is closer to
// all-or-nothing.
func (c *Coordinator) ingestWindows(ctx context.Context, doc *models.Document, windows []splitter.Window) []models.ChunkOutcome {
	if len(windows) == 0 {
		return nil
	}

	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.Text
	}
	results := c.embedder.EmbedText(ctx, texts)

	outcomes := make([]models.ChunkOutcome, len(windows))
	var chunkIDs, docIDs []string
	var vectors [][]float32
	var kept []int
	for i, w := range windows {
		outcomes[i] = models.ChunkOutcome{
			ChunkID: uuid.NewString(),
			Ordinal: w.Index + 1,
			Kind:    models.ChunkKindText,
		}
		if results[i].Degraded {
			log.Printf("Skipping window %d of doc %s: embedding degraded: %s", w.Index, doc.ID, results[i].Reason)
			outcomes[i].Error = "embedding degraded: " + results[i].Reason
			continue
		}
		chunkIDs = append(chunkIDs, outcomes[i].ChunkID)
		docIDs = append(docIDs, doc.ID)
		vectors = append(vectors, results[i].Vector)
		kept = append(kept, i)
	}

	if len(chunkIDs) == 0 {
		return outcomes
	}

	if err := c.index.EnsureCollection(ctx, doc.KBID, len(vectors[0])); err != nil {
		return failAll(outcomes, kept, err)
	}
	if err := c.index.Insert(ctx, doc.KBID, chunkIDs, docIDs, vectors); err != nil {
		return failAll(outcomes, kept, err)
	}

	for n, i := range kept {
		chunk := &models.Chunk{
			ID:         chunkIDs[n],
			DocumentID: doc.ID,
			KBID:       doc.KBID,
			Kind:       models.ChunkKindText,
			Ordinal:    windows[i].Index + 1,
			Text:       windows[i].Text,
			CreatedAt:  time.Now().UTC(),
		}
		if err := c.meta.InsertChunk(ctx, chunk); err != nil {
			log.Printf("Failed to persist chunk %s: %v", chunk.ID, err)
			if derr := c.index.DeleteChunks(ctx, doc.KBID, []string{chunk.ID}); derr != nil {
				log.Printf("Failed to roll back vector for chunk %s: %v", chunk.ID, derr)
			}
			outcomes[i].Error = err.Error()
			continue
		}
		outcomes[i].Indexed = true
	}
	return outcomes
}

// PurgeDocument removes a document and its chunks from all three stores.
// Per-store failures are reported but do not stop the remaining deletions.
func (c *Coordinator) PurgeDocument(ctx context.Context, kbID, docID string) error {
	doc, err := c.meta.FindDocument(ctx, docID)
	if err != nil {
		return err
	}

	chunks, err := c.meta.FindChunksByDocument(ctx, docID)
	if err != nil {
		return err
	}

	chunkIDs := make([]string, 0, len(chunks))
	keys := []string{doc.ObjectKey}
	for _, ch := range chunks {
		chunkIDs = append(chunkIDs, ch.ID)
		if ch.ImageKey != "" {
			keys = append(keys, ch.ImageKey)
		}
	}

	var firstErr error
	if err := c.index.DeleteChunks(ctx, kbID, chunkIDs); err != nil {
		firstErr = err
		log.Printf("Failed to delete vectors for doc %s: %v", docID, err)
	}
	if err := c.meta.DeleteChunksByDocument(ctx, docID); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.meta.DeleteDocument(ctx, docID); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, fail := range c.objects.BulkDelete(ctx, keys) {
		if firstErr == nil {
			firstErr = fail.Err
		}
	}

	if c.publisher != nil {
		c.publish(ctx, models.DocumentEvent{
			Type:       models.EventDocumentPurged,
			DocumentID: docID,
			KBID:       kbID,
			Filename:   doc.Filename,
			Chunks:     len(chunkIDs),
			Timestamp:  time.Now().UTC(),
		})
	}
	return firstErr
}

func (c *Coordinator) finish(ctx context.Context, receipt *models.Receipt, doc *models.Document, taskID string) {
	if err := c.meta.UpdateDocumentStatus(ctx, doc.ID, receipt.Status); err != nil {
		log.Printf("Failed to update status of doc %s: %v", doc.ID, err)
	}

	if taskID != "" && c.tracker != nil {
		if err := c.tracker.IncrProcessed(ctx, taskID); err != nil {
			log.Printf("Failed to update task %s: %v", taskID, err)
		}
	}

	eventType := models.EventDocumentIngested
	if receipt.Status == models.StatusPartialFailure {
		eventType = models.EventDocumentFailed
	}
	c.publish(ctx, models.DocumentEvent{
		Type:       eventType,
		DocumentID: doc.ID,
		KBID:       doc.KBID,
		Filename:   doc.Filename,
		Chunks:     receipt.Indexed(),
		Status:     receipt.Status,
		Timestamp:  time.Now().UTC(),
	})

	log.Printf("Ingest finished: doc %s status %s (%d/%d chunks indexed)",
		doc.ID, receipt.Status, receipt.Indexed(), len(receipt.Chunks))
}

func (c *Coordinator) publish(ctx context.Context, event models.DocumentEvent) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish %s for doc %s: %v", event.Type, event.DocumentID, err)
	}
}

func (c *Coordinator) trackFail(ctx context.Context, taskID, message string) {
	if taskID == "" || c.tracker == nil {
		return
	}
	if err := c.tracker.Fail(ctx, taskID, message); err != nil {
		log.Printf("Failed to mark task %s failed: %v", taskID, err)
	}
}

func failAll(outcomes []models.ChunkOutcome, kept []int, err error) []models.ChunkOutcome {
	for _, i := range kept {
		outcomes[i].Error = err.Error()
	}
	return outcomes
}

func receiptStatus(outcomes []models.ChunkOutcome) models.DocumentStatus {
	for _, o := range outcomes {
		if !o.Indexed {
			return models.StatusPartialFailure
		}
	}
	return models.StatusDone
}

func rawObjectKey(kbID, docID, filename string) string {
	return fmt.Sprintf("kb/%s/raw/%s/%s", kbID, docID, path.Base(filename))
}

func pageObjectKey(kbID, docID string, pageNumber int) string {
	return fmt.Sprintf("kb/%s/pages/%s/page_%04d.png", kbID, docID, pageNumber)
}

func contentTypeFor(filename string) string {
	switch ext := path.Ext(filename); ext {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".html":
		return "text/html"
	case ".md", ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
