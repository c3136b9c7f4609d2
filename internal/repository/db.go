package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/db"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/debemdeboas/forum-attachments/internal/util"
	"github.com/debemdeboas/forum-attachments/internal/util/compression"
	"github.com/google/uuid"
)

const postColumns = `id, kind, parent_id, title, content, content_hash, user_id, created_at, modified_at`

type DBPostRepository struct { // implements PostRepository
	reloadNotifier func(model.PostID)

	db         db.DB
	compressor compression.Compressor
	now        func() time.Time
}

func NewDBPostRepository(db db.DB, compressor compression.Compressor) *DBPostRepository {
	if compressor == nil {
		compressor = compression.ZstdCompressor{}
	}
	return &DBPostRepository{
		db: db,

		compressor: compressor,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *DBPostRepository) SetReloadNotifier(notifier func(model.PostID)) {
	r.reloadNotifier = notifier
}

func (r *DBPostRepository) notifyPostReload(postID model.PostID) {
	if r.reloadNotifier != nil {
		go r.reloadNotifier(postID)
	}
}

func (r *DBPostRepository) NewPost() *model.Post {
	now := r.now()

	return &model.Post{
		ID:   model.PostID(uuid.New().String()),
		Kind: model.PostKindThread,

		CreatedDate:  now,
		ModifiedDate: now,
	}
}

func (r *DBPostRepository) SavePost(ctx context.Context, post *model.Post) error {
	if post.Kind == "" {
		post.Kind = model.PostKindThread
	}
	post.ContentHash = util.ContentHashString(post.Content)

	res, err := r.db.Exec(ctx,
		`INSERT INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.Kind, post.ParentID, post.Title, post.Content, post.ContentHash, post.Owner,
		post.CreatedDate.UnixMilli(), post.ModifiedDate.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("error saving post: %w", err)
	}

	repoLogger.Debug().Interface("result", res).Str("post_id", string(post.ID)).Msg("Post saved")
	return nil
}

func (r *DBPostRepository) ReadPost(ctx context.Context, id model.PostID) (*model.Post, error) {
	row := r.db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPostNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading post: %w", err)
	}
	return post, nil
}

func (r *DBPostRepository) SetPostContent(ctx context.Context, post *model.Post, expectedHash, reason string) error {
	newHash := util.ContentHashString(post.Content)
	modified := r.now()

	err := r.db.WithTx(ctx, func(tx db.Tx) error {
		var previous, storedHash string
		err := tx.QueryRow(ctx, `SELECT content, content_hash FROM posts WHERE id = ?`, post.ID).Scan(&previous, &storedHash)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrPostNotFound, post.ID)
		} else if err != nil {
			return fmt.Errorf("error reading post: %w", err)
		}
		if storedHash != expectedHash {
			return ErrContentConflict
		}

		if reason != "" && previous != post.Content {
			if err := r.insertRevision(ctx, tx, post.ID, previous, reason, modified); err != nil {
				return err
			}
		}

		res, err := tx.Exec(ctx,
			`UPDATE posts SET title = ?, content = ?, content_hash = ?, modified_at = ? WHERE id = ? AND content_hash = ?`,
			post.Title, post.Content, newHash, modified.UnixMilli(), post.ID, expectedHash,
		)
		if err != nil {
			return fmt.Errorf("error saving post: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("error saving post: %w", err)
		} else if n == 0 {
			return ErrContentConflict
		}
		return nil
	})
	if err != nil {
		return err
	}

	changed := post.ContentHash != newHash
	post.ContentHash = newHash
	post.ModifiedDate = modified

	repoLogger.Debug().Str("post_id", string(post.ID)).Str("reason", reason).Msg("Post content set")
	if changed {
		r.notifyPostReload(post.ID)
	}
	return nil
}

func (r *DBPostRepository) insertRevision(ctx context.Context, tx db.Tx, id model.PostID, content, reason string, at time.Time) error {
	compressed, err := r.compressor.Compress([]byte(content))
	if err != nil {
		return fmt.Errorf("error compressing revision: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO post_revisions (id, post_id, content, compression, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), id, compressed, r.compressor.Name(), reason, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("error saving revision: %w", err)
	}
	return nil
}

func (r *DBPostRepository) RecentByOwner(ctx context.Context, owner model.UserID, since time.Time, limit int) ([]*model.Post, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+postColumns+` FROM posts WHERE user_id = ? AND modified_at >= ? ORDER BY modified_at DESC, id LIMIT ?`,
		owner, since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("error querying posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (r *DBPostRepository) Contains(ctx context.Context, scope, pattern string) (bool, error) {
	query := `SELECT 1 FROM posts WHERE content LIKE ? ESCAPE '\'`
	args := []any{pattern}

	switch scope {
	case ScopePosts:
	case ScopeThreads:
		query += ` AND kind = ?`
		args = append(args, model.PostKindThread)
	case ScopeComments:
		query += ` AND kind = ?`
		args = append(args, model.PostKindComment)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}

	var one int
	err := r.db.QueryRow(ctx, query+` LIMIT 1`, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error searching posts: %w", err)
	}
	return true, nil
}

func (r *DBPostRepository) Revisions(ctx context.Context, id model.PostID) ([]Revision, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, post_id, content, compression, reason, created_at FROM post_revisions WHERE post_id = ? ORDER BY created_at, id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("error querying revisions: %w", err)
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		var rev Revision
		var compressed []byte
		var created int64
		if err := rows.Scan(&rev.ID, &rev.PostID, &compressed, &rev.Compression, &rev.Reason, &created); err != nil {
			return nil, fmt.Errorf("error scanning revision: %w", err)
		}

		c, err := compression.New(rev.Compression)
		if err != nil {
			return nil, err
		}
		content, err := c.Decompress(compressed)
		if err != nil {
			return nil, fmt.Errorf("error decompressing revision: %w", err)
		}

		rev.Content = string(content)
		rev.CreatedAt = time.UnixMilli(created).UTC()
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(s scanner) (*model.Post, error) {
	var post model.Post
	var created, modified int64

	err := s.Scan(&post.ID, &post.Kind, &post.ParentID, &post.Title, &post.Content, &post.ContentHash, &post.Owner, &created, &modified)
	if err != nil {
		return nil, err
	}

	post.CreatedDate = time.UnixMilli(created).UTC()
	post.ModifiedDate = time.UnixMilli(modified).UTC()
	return &post, nil
}
