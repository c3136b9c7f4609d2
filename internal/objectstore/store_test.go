package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	SetLogger(zerolog.New(os.Stdout).Level(zerolog.ErrorLevel))
	os.Exit(m.Run())
}

func stores(t *testing.T) map[string]Store {
	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore returned error: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  local,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	src := "forum/tmp/u1/d1/img-a.png"
	dst := "forum/posts/2024/05/p-1.png"

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(ctx, src, []byte("png-bytes"), "image/png"); err != nil {
				t.Fatalf("Put returned error: %v", err)
			}
			if ok, err := store.Exists(ctx, src); err != nil || !ok {
				t.Fatalf("Expected %s to exist, got (%v, %v)", src, ok, err)
			}

			if err := store.Copy(ctx, src, dst); err != nil {
				t.Fatalf("Copy returned error: %v", err)
			}
			// Copy again: promotion retries overwrite.
			if err := store.Copy(ctx, src, dst); err != nil {
				t.Fatalf("Repeated copy returned error: %v", err)
			}
			if ok, _ := store.Exists(ctx, src); !ok {
				t.Error("Copy must leave the source in place")
			}
			if ok, _ := store.Exists(ctx, dst); !ok {
				t.Error("Copy did not create the destination")
			}

			err := store.Copy(ctx, "forum/tmp/missing.png", "forum/posts/x.png")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound copying a missing source, got %v", err)
			}

			n, err := store.DeleteMany(ctx, []string{src, "forum/tmp/never-existed.png"})
			if err != nil {
				t.Fatalf("DeleteMany returned error: %v", err)
			}
			if n != 2 {
				t.Errorf("Expected missing keys to count as deleted, got %d", n)
			}
			if ok, _ := store.Exists(ctx, src); ok {
				t.Error("Expected source to be deleted")
			}
			if ok, _ := store.Exists(ctx, dst); !ok {
				t.Error("DeleteMany removed an unrelated key")
			}
		})
	}
}

func TestMemoryStoreFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	boom := errors.New("boom")

	m.FailOn(OpPut, func(key string) error { return boom })
	if err := m.Put(ctx, "a", []byte("x"), "image/png"); !errors.Is(err, boom) {
		t.Errorf("Expected injected put failure, got %v", err)
	}
	if len(m.Keys()) != 0 || m.Puts() != 0 {
		t.Error("Failed put must not store anything")
	}
	m.FailOn(OpPut, nil)

	m.Put(ctx, "a", []byte("x"), "image/png")
	m.Put(ctx, "b", []byte("y"), "image/png")

	m.FailOn(OpDelete, func(key string) error {
		if key == "b" {
			return boom
		}
		return nil
	})
	n, err := m.DeleteMany(ctx, []string{"a", "b"})
	if n != 1 || !errors.Is(err, boom) {
		t.Errorf("Expected partial delete (1, boom), got (%d, %v)", n, err)
	}
	if !reflect.DeepEqual(m.Keys(), []string{"b"}) {
		t.Errorf("Unexpected keys after partial delete: %v", m.Keys())
	}

	obj, ok := m.Get("b")
	if !ok || string(obj.Body) != "y" || obj.ContentType != "image/png" {
		t.Errorf("Unexpected object: %+v", obj)
	}
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l, err := NewLocalStore(root)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("Keys cannot escape the root", func(t *testing.T) {
		if err := l.Put(ctx, "../../outside.png", []byte("x"), "image/png"); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "outside.png")); err != nil {
			t.Errorf("Expected traversal to be clamped under root: %v", err)
		}
	})

	t.Run("Empty draft directories are pruned", func(t *testing.T) {
		key := "forum/tmp/u1/d1/img-a.png"
		if err := l.Put(ctx, key, []byte("x"), "image/png"); err != nil {
			t.Fatal(err)
		}
		if _, err := l.DeleteMany(ctx, []string{key}); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(filepath.Join(root, "forum", "tmp", "u1")); !os.IsNotExist(err) {
			t.Errorf("Expected owner directory to be pruned, stat err = %v", err)
		}
	})

	t.Run("Handler serves objects", func(t *testing.T) {
		if err := l.Put(ctx, "forum/posts/2024/05/p-1.png", []byte("served"), "image/png"); err != nil {
			t.Fatal(err)
		}
		rec := httptest.NewRecorder()
		l.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/forum/posts/2024/05/p-1.png", nil))
		body, _ := io.ReadAll(rec.Result().Body)
		if string(body) != "served" {
			t.Errorf("Expected object body, got %q", body)
		}
	})
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	s, err := NewFromConfig(ctx, config.StorageConfig{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("Memory backend returned error: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Expected *MemoryStore, got %T", s)
	}

	s, err = NewFromConfig(ctx, config.StorageConfig{Backend: BackendLocal, LocalRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Local backend returned error: %v", err)
	}
	if _, ok := s.(*LocalStore); !ok {
		t.Errorf("Expected *LocalStore, got %T", s)
	}

	if _, err := NewFromConfig(ctx, config.StorageConfig{Backend: "ftp"}); err == nil {
		t.Error("Expected error for unsupported backend")
	}
}
