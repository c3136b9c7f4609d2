// Package model defines the core data structures shared by the attachment subsystem.
package model

import "time"

type UserID string

type PostID string

type PostKind string

const (
	PostKindThread  PostKind = "thread"
	PostKindComment PostKind = "comment"
)

// Post is persisted forum content. The attachment subsystem only reads it,
// except for the content rewrite performed during commit.
type Post struct {
	ID       PostID
	Kind     PostKind
	ParentID PostID

	Title   string
	Content string

	// Hash of Content as last read from the store. Used for compare-and-swap
	// updates so a commit never overwrites a concurrent edit.
	ContentHash string

	CreatedDate  time.Time
	ModifiedDate time.Time

	Owner UserID
}
