package objectstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/cache"
)

type Object struct {
	Body        []byte
	ContentType string
}

// Op names an operation a MemoryStore fault can be attached to.
type Op string

const (
	OpPut    Op = "put"
	OpCopy   Op = "copy"
	OpDelete Op = "delete"
	OpExists Op = "exists"
)

// MemoryStore is an in-process Store with call counters and injectable
// failures. Not durable.
type MemoryStore struct {
	objects *cache.Cache[string, Object]

	mu     sync.RWMutex
	faults map[Op]func(key string) error

	puts    atomic.Int64
	copies  atomic.Int64
	deletes atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: cache.NewCache[string, Object](),
		faults:  make(map[Op]func(string) error),
	}
}

// FailOn makes op return fn's error for the keys fn rejects. For copies the
// key passed is the destination. A nil fn clears the fault.
func (m *MemoryStore) FailOn(op Op, fn func(key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = fn
}

func (m *MemoryStore) fault(op Op, key string) error {
	m.mu.RLock()
	fn := m.faults[op]
	m.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(key)
}

func (m *MemoryStore) Put(_ context.Context, key string, body []byte, contentType string) error {
	start := time.Now()
	err := m.fault(OpPut, key)
	if err == nil {
		m.objects.Set(key, Object{Body: slices.Clone(body), ContentType: contentType})
		m.puts.Add(1)
	}
	observe(BackendMemory, "put", start, err)
	return err
}

func (m *MemoryStore) Copy(_ context.Context, src, dst string) error {
	start := time.Now()
	err := m.fault(OpCopy, dst)
	if err == nil {
		obj, ok := m.objects.Get(src)
		if !ok {
			err = fmt.Errorf("copy %s -> %s: %w", src, dst, ErrNotFound)
		} else {
			m.objects.Set(dst, obj)
			m.copies.Add(1)
		}
	}
	observe(BackendMemory, "copy", start, err)
	return err
}

func (m *MemoryStore) DeleteMany(_ context.Context, keys []string) (int, error) {
	start := time.Now()
	deleted := 0
	var errs []error
	for _, k := range keys {
		if err := m.fault(OpDelete, k); err != nil {
			errs = append(errs, err)
			continue
		}
		m.objects.Delete(k)
		m.deletes.Add(1)
		deleted++
	}
	err := errors.Join(errs...)
	observe(BackendMemory, "delete", start, err)
	return deleted, err
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	if err := m.fault(OpExists, key); err != nil {
		return false, err
	}
	_, ok := m.objects.Get(key)
	return ok, nil
}

func (m *MemoryStore) Get(key string) (Object, bool) {
	return m.objects.Get(key)
}

// Keys returns every stored key, sorted.
func (m *MemoryStore) Keys() []string {
	snapshot := m.objects.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m *MemoryStore) Puts() int    { return int(m.puts.Load()) }
func (m *MemoryStore) Copies() int  { return int(m.copies.Load()) }
func (m *MemoryStore) Deletes() int { return int(m.deletes.Load()) }
