package draft

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/cache"
	"github.com/debemdeboas/forum-attachments/internal/model"
)

type MemoryRepository struct { // implements Repository
	drafts *cache.Cache[model.DraftToken, *model.Draft]
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		drafts: cache.NewCache[model.DraftToken, *model.Draft](),
	}
}

func (m *MemoryRepository) Create(_ context.Context, d *model.Draft) error {
	stored := truncate(d)
	stored.Version = 1
	if !m.drafts.SetIfAbsent(d.Token, stored) {
		return fmt.Errorf("%w: %s", ErrExists, d.Token)
	}
	d.Version = 1
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, token model.DraftToken) (*model.Draft, error) {
	if d, ok := m.drafts.Get(token); ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) Save(_ context.Context, d *model.Draft) error {
	var err error
	m.drafts.Update(d.Token, func(current *model.Draft, exists bool) (*model.Draft, bool) {
		switch {
		case !exists:
			err = ErrNotFound
			return nil, false
		case current.Version != d.Version:
			err = ErrVersionConflict
			return current, true
		}
		next := truncate(d)
		next.Owner, next.CreatedAt = current.Owner, current.CreatedAt
		next.Version = current.Version + 1
		return next, true
	})
	if err != nil {
		return err
	}
	d.Version++
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, token model.DraftToken) error {
	m.drafts.Delete(token)
	return nil
}

func (m *MemoryRepository) ListExpired(_ context.Context, cutoff time.Time, after Cursor, limit int) ([]*model.Draft, error) {
	cutoffMs := cutoff.UnixMilli()
	var out []*model.Draft
	for _, d := range m.drafts.Snapshot() {
		if d.UpdatedAt.UnixMilli() < cutoffMs && after.precedes(d) {
			out = append(out, d.Clone())
		}
	}

	slices.SortFunc(out, func(a, b *model.Draft) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		if a.Token < b.Token {
			return -1
		} else if a.Token > b.Token {
			return 1
		}
		return 0
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// truncate copies d with millisecond timestamps, matching what the SQL
// repository can store.
func truncate(d *model.Draft) *model.Draft {
	c := d.Clone()
	c.CreatedAt = fromMillis(toMillis(c.CreatedAt))
	c.UpdatedAt = fromMillis(toMillis(c.UpdatedAt))
	c.CommittedAt = fromMillis(toMillis(c.CommittedAt))
	return c
}
