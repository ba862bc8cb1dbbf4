package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prompt-general/askslide/internal/api"
	"github.com/prompt-general/askslide/internal/cache"
	"github.com/prompt-general/askslide/internal/config"
	"github.com/prompt-general/askslide/internal/embedding"
	"github.com/prompt-general/askslide/internal/events"
	"github.com/prompt-general/askslide/internal/health"
	"github.com/prompt-general/askslide/internal/ingest"
	"github.com/prompt-general/askslide/internal/metastore"
	"github.com/prompt-general/askslide/internal/objectstore"
	"github.com/prompt-general/askslide/internal/retrieval"
	"github.com/prompt-general/askslide/internal/tasks"
	"github.com/prompt-general/askslide/internal/vectorindex"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "config/config.yaml", "Configuration file path")
		showVersion = flag.Bool("version", false, "Show version information")
		help        = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	if *showVersion {
		fmt.Printf("askslide version %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return
	}

	log.Printf("Starting askslide v%s (commit: %s, built: %s)", version, commit, date)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metadata store
	meta, err := metastore.NewMongoStore(ctx, metastore.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize metadata store: %v", err)
	}
	defer meta.Close(context.Background())

	// Object store
	objects, err := objectstore.NewMinioStore(ctx, objectstore.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Bucket:    cfg.Minio.Bucket,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize object store: %v", err)
	}

	// Vector index
	index, err := vectorindex.NewManager(ctx, cfg.Milvus.Address)
	if err != nil {
		log.Fatalf("Failed to initialize vector index: %v", err)
	}
	defer index.Close()

	// Task tracker
	tracker := tasks.NewTracker(tasks.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TaskTTL:  cfg.Redis.TaskTTL,
	})
	defer tracker.Close()
	if err := tracker.Ping(ctx); err != nil {
		log.Fatalf("Failed to reach task tracker: %v", err)
	}

	// Document event publisher
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		publisher, err = events.NewKafkaPublisher(events.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			log.Fatalf("Failed to initialize event publisher: %v", err)
		}
	}
	defer publisher.Close()

	// Embedding provider
	embedder := embedding.NewProvider(embedding.Config{
		BaseURL:        cfg.Embedding.BaseURL,
		Dimension:      cfg.Embedding.Dimension,
		TextBatchSize:  cfg.Embedding.TextBatchSize,
		ImageBatchSize: cfg.Embedding.ImageBatchSize,
		Timeout:        cfg.Embedding.Timeout,
		MaxRetries:     cfg.Embedding.MaxRetries,
	})

	// Pipeline coordinators
	ingestor := ingest.NewCoordinator(ingest.Config{
		Objects:      objects,
		Meta:         meta,
		Index:        index,
		Embedder:     embedder,
		Tracker:      tracker,
		Publisher:    publisher,
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		PageDPI:      cfg.Ingest.PageDPI,
	})
	queryCache := cache.NewRedisCache(cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer queryCache.Close()

	searcher := retrieval.NewCoordinator(retrieval.Config{
		Index:    index,
		Meta:     meta,
		Objects:  objects,
		Embedder: embedder,
		Cache:    queryCache,
		TopK:     cfg.Ingest.DefaultTopK,
	})

	// Health checks
	checker := health.NewChecker()
	checker.Register(&health.PingCheck{CheckName: "metastore", Ping: func(ctx context.Context) error {
		return meta.Ping(ctx)
	}})
	checker.Register(&health.PingCheck{CheckName: "tasks", Ping: tracker.Ping})
	checker.Register(&health.PingCheck{CheckName: "objectstore", Ping: func(ctx context.Context) error {
		_, err := objects.Exists(ctx, "healthcheck")
		return err
	}})
	checker.Register(&health.EmbeddingCheck{Provider: embedder})

	gateway := api.NewGateway(api.GatewayConfig{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		IdleTimeout:    cfg.API.IdleTimeout,
		EnableCORS:     cfg.API.EnableCORS,
		AllowedOrigins: cfg.API.AllowedOrigins,
		MaxUploadSize:  cfg.API.MaxUploadBytes,
	}, ingestor, searcher, tracker, checker.HTTPHandler())

	go func() {
		if err := gateway.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API gateway failed: %v", err)
		}
	}()

	waitForShutdown(cancel, gateway)
}

func waitForShutdown(cancel context.CancelFunc, gateway *api.Gateway) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Printf("Received signal %v, shutting down", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := gateway.Stop(shutdownCtx); err != nil {
		log.Printf("Gateway shutdown error: %v", err)
	}
	log.Printf("Shutdown complete")
}

func showHelp() {
	fmt.Printf(`askslide - multimodal document ingestion and retrieval service

Usage:
  askslide [flags]

Flags:
  -config string
        Configuration file path (default "config/config.yaml")
  -version
        Show version information
  -help
        Show this help message

Examples:
  askslide                                   # Start with default config
  askslide -config config/production.yaml    # Start with production config
  askslide -version                          # Show version
`)
}
