package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/prompt-general/askslide/pkg/models"
)

// ModelClient talks to the embedding model server. The server exposes
// /embed_text (JSON batch), /embed_image (multipart batch) and /health;
// both embed endpoints answer {"embeddings": [[...], ...]}.
type ModelClient struct {
	client  *http.Client
	baseURL string
}

type embedTextRequest struct {
	Queries []string `json:"queries"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewModelClient creates a client for the model server at baseURL
func NewModelClient(baseURL string, timeout time.Duration) *ModelClient {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &ModelClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// EmbedText requests embeddings for a batch of texts
func (c *ModelClient) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedTextRequest{Queries: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed_text", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, len(texts))
}

// EmbedImages requests embeddings for a batch of PNG-encoded images
func (c *ModelClient) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for i, img := range images {
		part, err := mw.CreateFormFile("images", fmt.Sprintf("image_%d.png", i))
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(img); err != nil {
			return nil, fmt.Errorf("write form file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed_image", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req, len(images))
}

// Health probes the model server health endpoint
func (c *ModelClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return models.NewDependencyError("embedding", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return models.NewDependencyError("embedding", fmt.Errorf("health returned status %d", resp.StatusCode))
	}
	return nil
}

func (c *ModelClient) do(req *http.Request, want int) ([][]float32, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, models.NewDependencyError("embedding", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, models.NewDependencyError("embedding",
			fmt.Errorf("model server returned status %d: %s", resp.StatusCode, string(body)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, models.NewDependencyError("embedding", fmt.Errorf("decode response: %w", err))
	}
	if len(out.Embeddings) != want {
		return nil, models.NewConsistencyError("model server returned %d embeddings for %d inputs", len(out.Embeddings), want)
	}
	return out.Embeddings, nil
}
