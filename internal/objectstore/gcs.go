package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	Bucket          string
	Endpoint        string
	CredentialsFile string
}

// GCSStore implements Store on a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient failed: %w", err)
	}

	storeLogger.Info().Str("bucket", cfg.Bucket).Msg("GCS object store ready")
	return &GCSStore{client: client, bucket: client.Bucket(cfg.Bucket)}, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	start := time.Now()
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType

	_, err := w.Write(body)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	observe(BackendGCS, "put", start, err)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	storeLogger.Debug().Str("key", key).Int("size", len(body)).Msg("GCS put object")
	return nil
}

func (g *GCSStore) Copy(ctx context.Context, src, dst string) error {
	start := time.Now()
	_, err := g.bucket.Object(dst).CopierFrom(g.bucket.Object(src)).Run(ctx)
	observe(BackendGCS, "copy", start, err)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}

	storeLogger.Debug().Str("src", src).Str("dst", dst).Msg("GCS copy object")
	return nil
}

// DeleteMany issues one request per key; GCS has no batch delete in this client.
func (g *GCSStore) DeleteMany(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	var errs []error
	for _, k := range keys {
		start := time.Now()
		err := g.bucket.Object(k).Delete(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			err = nil
		}
		observe(BackendGCS, "delete", start, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func (g *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	_, err := g.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		observe(BackendGCS, "head", start, nil)
		return false, nil
	}
	observe(BackendGCS, "head", start, err)
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}
