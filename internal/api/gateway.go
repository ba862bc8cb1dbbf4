package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/prompt-general/askslide/internal/ingest"
	"github.com/prompt-general/askslide/pkg/models"
)

// Gateway is the HTTP front of the service
type Gateway struct {
	server   *http.Server
	router   *mux.Router
	ingestor Ingestor
	searcher Searcher
	tasks    TaskService
	health   http.HandlerFunc
	config   GatewayConfig
}

// Ingestor runs the ingestion pipeline
type Ingestor interface {
	IngestDocument(ctx context.Context, data []byte, filename, kbID string, opts ingest.Options) (*models.Receipt, error)
	IngestImage(ctx context.Context, data []byte, filename, kbID string) (*models.Receipt, error)
	PurgeDocument(ctx context.Context, kbID, docID string) error
}

// Searcher answers similarity queries
type Searcher interface {
	Search(ctx context.Context, kbID, query string, topK int) ([]models.Hit, error)
}

// TaskService tracks long-running uploads
type TaskService interface {
	Start(ctx context.Context, taskID string, total int) error
	Get(ctx context.Context, taskID string) (map[string]string, error)
}

// GatewayConfig represents gateway configuration
type GatewayConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	EnableCORS     bool          `yaml:"enable_cors"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxUploadSize  int64         `yaml:"max_upload_size"`
}

// DefaultGatewayConfig returns default gateway configuration
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Host:           "0.0.0.0",
		Port:           8085,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		MaxUploadSize:  64 << 20, // 64MB
	}
}

// NewGateway creates the API gateway
func NewGateway(config GatewayConfig, ingestor Ingestor, searcher Searcher, tasks TaskService, health http.HandlerFunc) *Gateway {
	if config.MaxUploadSize == 0 {
		config.MaxUploadSize = DefaultGatewayConfig().MaxUploadSize
	}

	gateway := &Gateway{
		router:   mux.NewRouter(),
		ingestor: ingestor,
		searcher: searcher,
		tasks:    tasks,
		health:   health,
		config:   config,
	}

	gateway.setupRoutes()
	gateway.setupMiddleware()

	gateway.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      gateway.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return gateway
}

// setupRoutes configures all API routes
func (g *Gateway) setupRoutes() {
	api := g.router.PathPrefix("/api/v1").Subrouter()

	kb := api.PathPrefix("/kb/{kb_id}").Subrouter()
	kb.HandleFunc("/documents", g.handleUploadDocuments).Methods("POST")
	kb.HandleFunc("/documents/{doc_id}", g.handleDeleteDocument).Methods("DELETE")
	kb.HandleFunc("/images", g.handleUploadImage).Methods("POST")
	kb.HandleFunc("/search", g.handleSearch).Methods("POST")

	api.HandleFunc("/tasks/{task_id}", g.handleGetTask).Methods("GET")

	if g.health != nil {
		g.router.HandleFunc("/healthz", g.health).Methods("GET")
	}
}

// setupMiddleware configures HTTP middleware
func (g *Gateway) setupMiddleware() {
	if g.config.EnableCORS {
		c := cors.New(cors.Options{
			AllowedOrigins:   g.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		})
		g.router.Use(c.Handler)
	}
	g.router.Use(g.loggingMiddleware)
}

func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s -> %d (%s)", r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the API gateway
func (g *Gateway) Start() error {
	log.Printf("Starting API gateway on %s", g.server.Addr)
	return g.server.ListenAndServe()
}

// Stop stops the API gateway
func (g *Gateway) Stop(ctx context.Context) error {
	log.Printf("Stopping API gateway")
	return g.server.Shutdown(ctx)
}

// Handler exposes the routed handler for tests
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Response types

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Helper functions

func writeJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, code, message, details string) {
	writeJSONResponse(w, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Details: details},
	})
}

func writeSuccessResponse(w http.ResponseWriter, status int, data interface{}) {
	writeJSONResponse(w, status, APIResponse{Success: true, Data: data})
}

func parseRequestBody(r *http.Request, target interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// writeDomainError maps pipeline errors onto HTTP statuses
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", err.Error())
	case models.IsInputError(err):
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", "Request rejected", err.Error())
	case models.IsConsistencyError(err):
		writeErrorResponse(w, http.StatusConflict, "CONFLICT", "State conflict", err.Error())
	case models.IsDependencyError(err):
		writeErrorResponse(w, http.StatusBadGateway, "DEPENDENCY_ERROR", "Upstream dependency failed", err.Error())
	default:
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", err.Error())
	}
}
