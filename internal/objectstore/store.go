// Package objectstore is the blob backend attachments are written to. It
// offers put, copy and batch delete; it knows nothing about references.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/metrics"
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("object not found")

type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Copy writes src's bytes to dst, overwriting dst. src stays valid.
	Copy(ctx context.Context, src, dst string) error
	// DeleteMany removes keys and returns how many are gone. Missing keys
	// count as deleted.
	DeleteMany(ctx context.Context, keys []string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Backend names accepted by NewFromConfig.
const (
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

var storeLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	storeLogger = l
}

// NewFromConfig builds the configured backend. Backends holding network
// clients also implement io.Closer.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case BackendS3:
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
		})
	case BackendGCS:
		return NewGCSStore(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			Endpoint:        cfg.Endpoint,
			CredentialsFile: cfg.CredentialsFile,
		})
	case BackendLocal, "":
		return NewLocalStore(cfg.LocalRoot)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

func observe(backend, op string, start time.Time, err error) {
	metrics.RecordStoreOperation(backend, op, time.Since(start), err == nil)
}
