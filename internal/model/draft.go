package model

import (
	"slices"
	"time"
)

type DraftToken string

type ImageID string

// ImageRef is one attached object. URL is always derived from Key.
type ImageRef struct {
	ID  ImageID `json:"id"`
	Key string  `json:"key"`
	URL string  `json:"url"`

	// URL that content pointed at before the most recent promotion, kept so a
	// stale copy of the content can still be rewritten.
	LegacyURL string `json:"legacyUrl,omitempty"`
}

// Draft is a short-lived composition session collecting uploaded images.
type Draft struct {
	Token     DraftToken
	Owner     UserID
	ScopeHint string
	Images    []ImageRef

	CreatedAt time.Time
	UpdatedAt time.Time

	// Set once a commit rewrote the target content but some temporary
	// objects could not be removed yet.
	CommittedAt time.Time

	// Compare-and-swap counter, bumped by every successful save.
	Version int64
}

// IsExpired reports whether the draft has been idle for longer than ttl.
func (d *Draft) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(d.UpdatedAt) > ttl
}

func (d *Draft) Committed() bool {
	return !d.CommittedAt.IsZero()
}

func (d *Draft) Image(id ImageID) (ImageRef, bool) {
	for _, img := range d.Images {
		if img.ID == id {
			return img, true
		}
	}
	return ImageRef{}, false
}

// Clone returns a deep copy so callers can mutate the image list freely.
func (d *Draft) Clone() *Draft {
	c := *d
	c.Images = slices.Clone(d.Images)
	return &c
}
