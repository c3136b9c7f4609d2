// Package repository persists forum posts: the content the attachment
// subsystem rewrites on commit and searches before deleting objects.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/rs/zerolog"
)

var (
	ErrPostNotFound    = errors.New("post not found")
	ErrContentConflict = errors.New("post content changed concurrently")
	ErrUnknownScope    = errors.New("unknown corpus scope")
)

// Corpus scopes accepted by Contains.
const (
	ScopePosts    = "posts"
	ScopeThreads  = "threads"
	ScopeComments = "comments"
)

var repoLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	repoLogger = l
}

type Revision struct {
	ID          string
	PostID      model.PostID
	Content     string
	Compression string
	Reason      string
	CreatedAt   time.Time
}

type PostRepository interface {
	NewPost() *model.Post
	SavePost(ctx context.Context, post *model.Post) error
	ReadPost(ctx context.Context, id model.PostID) (*model.Post, error)

	// SetPostContent replaces title and content if the stored content hash
	// still equals expectedHash, snapshotting the previous content as a
	// revision tagged with reason. A lost race yields ErrContentConflict.
	SetPostContent(ctx context.Context, post *model.Post, expectedHash, reason string) error

	// RecentByOwner returns the owner's posts modified at or after since,
	// newest first.
	RecentByOwner(ctx context.Context, owner model.UserID, since time.Time, limit int) ([]*model.Post, error)

	// Contains reports whether any post in scope matches the LIKE pattern.
	Contains(ctx context.Context, scope, pattern string) (bool, error)

	Revisions(ctx context.Context, id model.PostID) ([]Revision, error)

	// SetReloadNotifier sets a function that will be called when a post's content changes.
	SetReloadNotifier(notifier func(model.PostID))
}
