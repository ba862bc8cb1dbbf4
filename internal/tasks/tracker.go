package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prompt-general/askslide/pkg/models"
)

// Status values mirrored into the task hash
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Config holds the task tracker connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	TaskTTL  time.Duration
}

// Tracker records per-ingestion progress in a Redis hash so callers can poll
// long-running tasks by id.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTracker creates a Tracker backed by Redis
func NewTracker(cfg Config) *Tracker {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ttl := cfg.TaskTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Tracker{client: client, ttl: ttl}
}

// Ping verifies connectivity
func (t *Tracker) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return models.NewDependencyError("redis", err)
	}
	return nil
}

// Close releases the Redis connection
func (t *Tracker) Close() error {
	return t.client.Close()
}

func taskKey(taskID string) string {
	return "task:" + taskID
}

// Start initializes a task hash with a total item count
func (t *Tracker) Start(ctx context.Context, taskID string, total int) error {
	key := taskKey(taskID)
	err := t.client.HSet(ctx, key, map[string]interface{}{
		"status":    StatusProcessing,
		"message":   "",
		"total":     total,
		"processed": 0,
	}).Err()
	if err != nil {
		return models.NewDependencyError("redis", err)
	}
	return t.client.Expire(ctx, key, t.ttl).Err()
}

// SetStatus updates a task's status and message
func (t *Tracker) SetStatus(ctx context.Context, taskID, status, message string) error {
	err := t.client.HSet(ctx, taskKey(taskID), map[string]interface{}{
		"status":  status,
		"message": message,
	}).Err()
	if err != nil {
		return models.NewDependencyError("redis", err)
	}
	return nil
}

// IncrProcessed bumps the processed counter and marks the task completed
// once it reaches the total.
func (t *Tracker) IncrProcessed(ctx context.Context, taskID string) error {
	key := taskKey(taskID)
	processed, err := t.client.HIncrBy(ctx, key, "processed", 1).Result()
	if err != nil {
		return models.NewDependencyError("redis", err)
	}

	total, err := t.client.HGet(ctx, key, "total").Int64()
	if err != nil {
		return models.NewDependencyError("redis", err)
	}

	if processed >= total {
		return t.SetStatus(ctx, taskID, StatusCompleted,
			fmt.Sprintf("all %d items processed", total))
	}
	return nil
}

// Fail marks a task failed with an error message
func (t *Tracker) Fail(ctx context.Context, taskID, message string) error {
	return t.SetStatus(ctx, taskID, StatusFailed, message)
}

// Get returns the raw task hash, or models.ErrNotFound for unknown ids
func (t *Tracker) Get(ctx context.Context, taskID string) (map[string]string, error) {
	fields, err := t.client.HGetAll(ctx, taskKey(taskID)).Result()
	if err != nil {
		return nil, models.NewDependencyError("redis", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}
	return fields, nil
}
