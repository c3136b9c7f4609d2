package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps objects as files under a root directory. Used for
// development and single-node deployments; it can also serve the files.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("local storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	storeLogger.Info().Str("root", abs).Msg("Local object store ready")
	return &LocalStore{root: abs}, nil
}

func (l *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash("/" + key))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *LocalStore) Put(_ context.Context, key string, body []byte, _ string) error {
	start := time.Now()
	err := l.write(key, body)
	observe(BackendLocal, "put", start, err)
	return err
}

func (l *LocalStore) write(key string, body []byte) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	// Write to a sibling temp file and rename so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("put object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("put object %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (l *LocalStore) Copy(_ context.Context, src, dst string) error {
	start := time.Now()
	err := l.copy(src, dst)
	observe(BackendLocal, "copy", start, err)
	return err
}

func (l *LocalStore) copy(src, dst string) error {
	p, err := l.path(src)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return l.write(dst, body)
}

func (l *LocalStore) DeleteMany(_ context.Context, keys []string) (int, error) {
	start := time.Now()
	deleted := 0
	var errs []error
	for _, k := range keys {
		p, err := l.path(k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
			continue
		}
		deleted++
		l.pruneEmptyDirs(filepath.Dir(p))
	}
	err := errors.Join(errs...)
	observe(BackendLocal, "delete", start, err)
	return deleted, err
}

// pruneEmptyDirs removes now-empty parents (draft and owner directories)
// up to, but not including, the root.
func (l *LocalStore) pruneEmptyDirs(dir string) {
	for dir != l.root && strings.HasPrefix(dir, l.root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (l *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Handler serves stored objects by key.
func (l *LocalStore) Handler() http.Handler {
	return http.FileServer(http.Dir(l.root))
}
