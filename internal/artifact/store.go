// Package artifact moves run inputs and results through the object store
// and issues time-limited download URLs for results.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ameen-91/exray/internal/platform/objectstore"
	"github.com/minio/minio-go/v7"
)

// ErrObjectNotFound means the requested key does not exist in the store.
// Callers use it to drive the result-key fallback.
var ErrObjectNotFound = errors.New("object not found")

const DefaultPresignTTL = time.Hour

type MinioStore struct {
	client *minio.Client
	cfg    objectstore.Config
}

func NewMinioStore(cfg objectstore.Config) (*MinioStore, error) {
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &MinioStore{client: client, cfg: cfg}, nil
}

func NewMinioStoreWithClient(client *minio.Client, cfg objectstore.Config) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return &MinioStore{client: client, cfg: cfg}, nil
}

// Upload stores a local file under the given key, creating the bucket on
// first use.
func (s *MinioStore) Upload(ctx context.Context, key, path string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio store not initialized")
	}
	if err := objectstore.EnsureBucket(ctx, s.client, s.cfg); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", s.cfg.Bucket, err)
	}
	if _, err := s.client.FPutObject(ctx, s.cfg.Bucket, key, path, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a time-limited download URL for the key. The key is
// stat-checked first so a stale key surfaces as ErrObjectNotFound instead
// of a signed URL that 404s in the caller's browser.
func (s *MinioStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("minio store not initialized")
	}
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("stat %s: %w", key, ErrObjectNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", key, err)
	}

	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Healthy verifies the store is reachable and the bucket exists.
func (s *MinioStore) Healthy(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio store not initialized")
	}
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket check: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket missing: %s", s.cfg.Bucket)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
