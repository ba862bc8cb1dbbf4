package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration
type Config struct {
	API       APIConfig       `yaml:"api"`
	Milvus    MilvusConfig    `yaml:"milvus"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Minio     MinioConfig     `yaml:"minio"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// APIConfig represents the HTTP gateway configuration
type APIConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	EnableCORS     bool          `yaml:"enable_cors"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// MilvusConfig represents the vector index connection
type MilvusConfig struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// MongoConfig represents the metadata store connection
type MongoConfig struct {
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MinioConfig represents the object store connection
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// RedisConfig represents the task tracker connection
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TaskTTL  time.Duration `yaml:"task_ttl"`
}

// KafkaConfig represents the document event publisher configuration
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// EmbeddingConfig represents the embedding model server boundary
type EmbeddingConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Dimension      int           `yaml:"dimension"`
	TextBatchSize  int           `yaml:"text_batch_size"`
	ImageBatchSize int           `yaml:"image_batch_size"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// IngestConfig represents document processing defaults
type IngestConfig struct {
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	PageDPI      float64 `yaml:"page_dpi"`
	DefaultTopK  int     `yaml:"default_top_k"`
}

// Load reads configuration from a yaml file, then applies environment
// overrides. A .env file next to the binary is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		API: APIConfig{
			Host:           "0.0.0.0",
			Port:           8085,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   120 * time.Second,
			IdleTimeout:    60 * time.Second,
			EnableCORS:     true,
			AllowedOrigins: []string{"*"},
			MaxUploadBytes: 64 << 20,
		},
		Milvus: MilvusConfig{Address: "localhost:19530", Timeout: 10 * time.Second},
		Mongo:  MongoConfig{URI: "mongodb://localhost:27017", Database: "askslide", Timeout: 10 * time.Second},
		Minio: MinioConfig{
			Endpoint: "localhost:9000",
			Bucket:   "askslide",
		},
		Redis: RedisConfig{Addr: "localhost:6379", TaskTTL: 24 * time.Hour},
		Kafka: KafkaConfig{Topic: "askslide-documents"},
		Embedding: EmbeddingConfig{
			BaseURL:        "http://localhost:8005",
			Dimension:      768,
			TextBatchSize:  8,
			ImageBatchSize: 4,
			Timeout:        120 * time.Second,
			MaxRetries:     3,
		},
		Ingest: IngestConfig{
			ChunkSize:    1024,
			ChunkOverlap: 200,
			PageDPI:      150,
			DefaultTopK:  5,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MILVUS_ADDRESS"); v != "" {
		cfg.Milvus.Address = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGODB_DB"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Minio.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.Minio.Bucket = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	if c.Embedding.TextBatchSize <= 0 || c.Embedding.ImageBatchSize <= 0 {
		return fmt.Errorf("embedding batch sizes must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	return nil
}
