package embedding

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/prompt-general/askslide/pkg/models"
)

// State is the provider readiness, probed once at construction
type State string

const (
	StateReady       State = "ready"
	StateDegraded    State = "degraded"
	StateUnavailable State = "unavailable"
)

// Result is the outcome of embedding one input. Degraded results carry a
// dimensionally valid placeholder vector and the reason real inference was
// skipped; callers decide whether that is acceptable.
type Result struct {
	Vector   []float32
	Degraded bool
	Reason   string
}

// Config holds provider settings
type Config struct {
	BaseURL        string
	Dimension      int
	TextBatchSize  int
	ImageBatchSize int
	Timeout        time.Duration
	MaxRetries     int
}

// Provider maps batches of text or images to fixed-dimension vectors through
// the model server, sub-batching large inputs and substituting degraded
// vectors when inference fails so there is always one result per input.
type Provider struct {
	client         *ModelClient
	dim            int
	textBatchSize  int
	imageBatchSize int
	maxRetries     int

	mu    sync.RWMutex
	state State
}

// NewProvider creates a Provider and probes the model server once to settle
// the initial readiness state.
func NewProvider(cfg Config) *Provider {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	if cfg.TextBatchSize <= 0 {
		cfg.TextBatchSize = 8
	}
	if cfg.ImageBatchSize <= 0 {
		cfg.ImageBatchSize = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	p := &Provider{
		client:         NewModelClient(cfg.BaseURL, cfg.Timeout),
		dim:            cfg.Dimension,
		textBatchSize:  cfg.TextBatchSize,
		imageBatchSize: cfg.ImageBatchSize,
		maxRetries:     cfg.MaxRetries,
		state:          StateReady,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Health(ctx); err != nil {
		log.Printf("Embedding model server unavailable, provider starts degraded: %v", err)
		p.state = StateUnavailable
	}
	return p
}

// State returns the current provider readiness
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Dimension returns the embedding dimension shared by both modalities
func (p *Provider) Dimension() int { return p.dim }

// EmbedText embeds a batch of texts. Always returns len(texts) results.
func (p *Provider) EmbedText(ctx context.Context, texts []string) []Result {
	results := make([]Result, 0, len(texts))
	for start := 0; start < len(texts); start += p.textBatchSize {
		end := start + p.textBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		sub := texts[start:end]

		vectors, err := p.withRetry(ctx, func() ([][]float32, error) {
			return p.client.EmbedText(ctx, sub)
		})
		if err != nil {
			log.Printf("Text embedding degraded for %d inputs: %v", len(sub), err)
			results = append(results, p.degradedBatch(sub, err)...)
			continue
		}
		for _, v := range vectors {
			results = append(results, Result{Vector: v})
		}
	}
	return results
}

// EmbedImages embeds a batch of PNG-encoded images. Always returns
// len(images) results.
func (p *Provider) EmbedImages(ctx context.Context, images [][]byte) []Result {
	results := make([]Result, 0, len(images))
	for start := 0; start < len(images); start += p.imageBatchSize {
		end := start + p.imageBatchSize
		if end > len(images) {
			end = len(images)
		}
		sub := images[start:end]

		vectors, err := p.withRetry(ctx, func() ([][]float32, error) {
			return p.client.EmbedImages(ctx, sub)
		})
		if err != nil {
			log.Printf("Image embedding degraded for %d inputs: %v", len(sub), err)
			for _, img := range sub {
				results = append(results, p.degraded(img, err))
			}
			continue
		}
		for _, v := range vectors {
			results = append(results, Result{Vector: v})
		}
	}
	return results
}

// withRetry runs call with bounded exponential backoff before giving up.
// A success transitions the provider back to ready; exhaustion marks it
// degraded.
func (p *Provider) withRetry(ctx context.Context, call func() ([][]float32, error)) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	var out [][]float32
	op := func() error {
		var err error
		out, err = call()
		if models.IsConsistencyError(err) {
			// A malformed boundary response will not fix itself.
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.maxRetries)), ctx))
	p.setState(err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) setState(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateDegraded
	} else {
		p.state = StateReady
	}
}

func (p *Provider) degradedBatch(texts []string, err error) []Result {
	out := make([]Result, len(texts))
	for i, t := range texts {
		out[i] = p.degraded([]byte(t), err)
	}
	return out
}

// degraded builds a placeholder vector seeded from the input bytes. The
// vector is dimensionally valid and deterministic but semantically
// meaningless; the Result is flagged so callers never mistake it for a real
// embedding.
func (p *Provider) degraded(seedBytes []byte, err error) Result {
	h := fnv.New64a()
	h.Write(seedBytes)
	seed := h.Sum64()

	vec := make([]float32, p.dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33))/float32(1<<30) - 1
	}
	return Result{Vector: vec, Degraded: true, Reason: err.Error()}
}
