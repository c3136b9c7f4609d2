// Package draft persists attachment drafts.
package draft

import (
	"context"
	"errors"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/model"
)

var (
	ErrNotFound        = errors.New("draft not found")
	ErrExists          = errors.New("draft already exists")
	ErrVersionConflict = errors.New("draft was modified concurrently")
)

// Cursor marks the last draft returned by ListExpired. The zero value
// starts from the oldest draft.
type Cursor struct {
	UpdatedAt time.Time
	Token     model.DraftToken
}

func (c Cursor) IsZero() bool {
	return c.Token == ""
}

type Repository interface {
	// Create inserts a new draft and sets its Version to 1.
	Create(ctx context.Context, d *model.Draft) error
	Get(ctx context.Context, token model.DraftToken) (*model.Draft, error)
	// Save writes d if its Version still matches the stored one, then bumps
	// d.Version. A stale Version yields ErrVersionConflict.
	Save(ctx context.Context, d *model.Draft) error
	// Delete removes the draft. Deleting a missing draft is not an error.
	Delete(ctx context.Context, token model.DraftToken) error
	// ListExpired returns up to limit drafts last updated strictly before
	// cutoff, oldest first, starting after the cursor. A limit <= 0 lists
	// them all.
	ListExpired(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]*model.Draft, error)
}

// CursorOf returns the cursor positioned on d.
func CursorOf(d *model.Draft) Cursor {
	return Cursor{UpdatedAt: d.UpdatedAt, Token: d.Token}
}

// precedes reports whether the cursor sorts strictly before d.
func (c Cursor) precedes(d *model.Draft) bool {
	if c.IsZero() {
		return true
	}
	cu, du := c.UpdatedAt.UnixMilli(), d.UpdatedAt.UnixMilli()
	return du > cu || (du == cu && d.Token > c.Token)
}
