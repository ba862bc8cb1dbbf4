package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prompt-general/askslide/internal/embedding"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check probes one dependency
type Check interface {
	Name() string
	Check(ctx context.Context) Result
}

// Result is the outcome of one probe
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Checker fans registered checks out in parallel and folds the results into
// an overall status.
type Checker struct {
	mu     sync.RWMutex
	checks []Check
}

func NewChecker() *Checker {
	return &Checker{checks: make([]Check, 0)}
}

func (hc *Checker) Register(check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, check)
}

func (hc *Checker) Check(ctx context.Context) map[string]Result {
	hc.mu.RLock()
	checks := make([]Check, len(hc.checks))
	copy(checks, hc.checks)
	hc.mu.RUnlock()

	results := make(map[string]Result)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, c := range checks {
		wg.Add(1)
		go func(ch Check) {
			defer wg.Done()
			start := time.Now()
			res := ch.Check(ctx)
			res.Duration = time.Since(start)
			mu.Lock()
			results[ch.Name()] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

func (hc *Checker) OverallStatus(results map[string]Result) Status {
	hasDegraded := false
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (hc *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		results := hc.Check(ctx)
		overall := hc.OverallStatus(results)
		resp := map[string]interface{}{
			"status":    overall,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    results,
		}
		w.Header().Set("Content-Type", "application/json")
		statusCode := http.StatusOK
		if overall == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(resp)
	}
}

// PingCheck wraps a dependency's Ping method as a check
type PingCheck struct {
	CheckName string
	Ping      func(ctx context.Context) error
}

func (p *PingCheck) Name() string { return p.CheckName }

func (p *PingCheck) Check(ctx context.Context) Result {
	res := Result{Name: p.CheckName, Status: StatusHealthy}
	if err := p.Ping(ctx); err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	return res
}

// EmbeddingCheck reports the embedding provider's state. A degraded provider
// keeps serving placeholder vectors, so it maps to degraded, not unhealthy.
type EmbeddingCheck struct {
	Provider interface{ State() embedding.State }
}

func (e *EmbeddingCheck) Name() string { return "embedding" }

func (e *EmbeddingCheck) Check(ctx context.Context) Result {
	res := Result{Name: e.Name()}
	switch e.Provider.State() {
	case embedding.StateReady:
		res.Status = StatusHealthy
	case embedding.StateDegraded:
		res.Status = StatusDegraded
		res.Message = "embedding model unreachable, serving placeholder vectors"
	default:
		res.Status = StatusUnhealthy
		res.Message = "embedding model unavailable"
	}
	return res
}
