package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/prompt-general/askslide/pkg/models"
)

// Config holds the object store connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// DeleteError reports a single failed key from a bulk delete
type DeleteError struct {
	Key string
	Err error
}

// MinioStore is durable key->blob storage for original files and rendered
// page images
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object store and ensures the bucket exists
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, models.NewDependencyError("objectstore", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, models.NewDependencyError("objectstore", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, models.NewDependencyError("objectstore", fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err))
		}
		log.Printf("Created bucket %q", cfg.Bucket)
	}

	return &MinioStore{client: mc, bucket: cfg.Bucket}, nil
}

// Put stores a blob under key
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return models.NewDependencyError("objectstore", err)
	}
	return nil
}

// Get reads the blob stored under key
func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, models.NewDependencyError("objectstore", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, models.ErrNotFound
		}
		return nil, models.NewDependencyError("objectstore", err)
	}
	return data, nil
}

// Exists reports whether a blob is stored under key
func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, models.NewDependencyError("objectstore", err)
	}
	return true, nil
}

// BulkDelete removes the given keys, deduplicated, and reports per-key
// failures. A nil return means every key was removed.
func (s *MinioStore) BulkDelete(ctx context.Context, keys []string) []DeleteError {
	seen := make(map[string]bool, len(keys))
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for _, k := range keys {
			if seen[k] {
				continue
			}
			seen[k] = true
			objectsCh <- minio.ObjectInfo{Key: k}
		}
	}()

	var failures []DeleteError
	for rErr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		log.Printf("Object delete failed | Key: %s | Error: %v", rErr.ObjectName, rErr.Err)
		failures = append(failures, DeleteError{Key: rErr.ObjectName, Err: rErr.Err})
	}
	return failures
}

// PresignedURL returns a time-limited download link for key
func (s *MinioStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", models.NewDependencyError("objectstore", err)
	}
	return u.String(), nil
}
