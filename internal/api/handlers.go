package api

import (
	"context"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/prompt-general/askslide/internal/ingest"
)

// Request/Response types

type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type UploadResponse struct {
	TaskID string `json:"task_id"`
	Files  int    `json:"files"`
}

// handleUploadDocuments accepts a multipart batch under the "files" field,
// kicks off ingestion in the background and returns a task id to poll.
func (g *Gateway) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	kbID := mux.Vars(r)["kb_id"]

	if err := r.ParseMultipartForm(g.config.MaxUploadSize); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse multipart form", err.Error())
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "No files in upload", "expected multipart field \"files\"")
		return
	}

	opts := ingest.Options{}
	if v := r.FormValue("chunk_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.ChunkSize = n
		}
	}
	if v := r.FormValue("chunk_overlap"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.ChunkOverlap = n
		}
	}

	// Read the payloads up front; the temp files back the multipart form
	// and vanish when the handler returns.
	type upload struct {
		name string
		data []byte
	}
	uploads := make([]upload, 0, len(files))
	for _, fh := range files {
		data, err := readMultipartFile(fh)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read uploaded file", err.Error())
			return
		}
		uploads = append(uploads, upload{name: fh.Filename, data: data})
	}

	taskID := uuid.NewString()
	if err := g.tasks.Start(r.Context(), taskID, len(uploads)); err != nil {
		writeDomainError(w, err)
		return
	}
	opts.TaskID = taskID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		for _, u := range uploads {
			if _, err := g.ingestor.IngestDocument(ctx, u.data, u.name, kbID, opts); err != nil {
				log.Printf("Ingest of %s failed (task %s): %v", u.name, taskID, err)
			}
		}
	}()

	writeSuccessResponse(w, http.StatusAccepted, UploadResponse{TaskID: taskID, Files: len(uploads)})
}

// handleUploadImage ingests a single image synchronously and returns its
// receipt.
func (g *Gateway) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	kbID := mux.Vars(r)["kb_id"]

	if err := r.ParseMultipartForm(g.config.MaxUploadSize); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse multipart form", err.Error())
		return
	}

	files := r.MultipartForm.File["image"]
	if len(files) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "No image in upload", "expected multipart field \"image\"")
		return
	}

	data, err := readMultipartFile(files[0])
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read uploaded image", err.Error())
		return
	}

	receipt, err := g.ingestor.IngestImage(r.Context(), data, files[0].Filename, kbID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusCreated, receipt)
}

// handleSearch answers a similarity query over one knowledge base
func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	kbID := mux.Vars(r)["kb_id"]

	var req SearchRequest
	if err := parseRequestBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}

	hits, err := g.searcher.Search(r.Context(), kbID, req.Query, req.TopK)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, hits)
}

// handleGetTask reports the progress of an upload task
func (g *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	task, err := g.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, task)
}

// handleDeleteDocument purges a document from all stores
func (g *Gateway) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kbID := vars["kb_id"]
	docID := vars["doc_id"]

	if err := g.ingestor.PurgeDocument(r.Context(), kbID, docID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, map[string]string{"doc_id": docID, "status": "purged"})
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
