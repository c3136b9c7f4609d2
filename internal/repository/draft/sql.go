package draft

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/db"
	"github.com/debemdeboas/forum-attachments/internal/model"
)

const draftColumns = `token, owner_id, scope_hint, images, created_at, updated_at, committed_at, version`

type SQLRepository struct { // implements Repository
	db db.DB
}

func NewSQLRepository(db db.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, d *model.Draft) error {
	images, err := encodeImages(d.Images)
	if err != nil {
		return err
	}

	var exists int
	err = r.db.QueryRow(ctx, `SELECT 1 FROM drafts WHERE token = ?`, d.Token).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrExists, d.Token)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("error checking draft: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO drafts (`+draftColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Token, d.Owner, d.ScopeHint, images,
		toMillis(d.CreatedAt), toMillis(d.UpdatedAt), toMillis(d.CommittedAt), 1,
	)
	if err != nil {
		return fmt.Errorf("error creating draft: %w", err)
	}
	d.Version = 1
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, token model.DraftToken) (*model.Draft, error) {
	row := r.db.QueryRow(ctx, `SELECT `+draftColumns+` FROM drafts WHERE token = ?`, token)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading draft: %w", err)
	}
	return d, nil
}

func (r *SQLRepository) Save(ctx context.Context, d *model.Draft) error {
	images, err := encodeImages(d.Images)
	if err != nil {
		return err
	}

	res, err := r.db.Exec(ctx,
		`UPDATE drafts SET scope_hint = ?, images = ?, updated_at = ?, committed_at = ?, version = version + 1
		 WHERE token = ? AND version = ?`,
		d.ScopeHint, images, toMillis(d.UpdatedAt), toMillis(d.CommittedAt), d.Token, d.Version,
	)
	if err != nil {
		return fmt.Errorf("error saving draft: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error saving draft: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, d.Token); err != nil {
			return err
		}
		return ErrVersionConflict
	}

	d.Version++
	return nil
}

func (r *SQLRepository) Delete(ctx context.Context, token model.DraftToken) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM drafts WHERE token = ?`, token); err != nil {
		return fmt.Errorf("error deleting draft: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListExpired(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]*model.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE updated_at < ?`
	args := []any{cutoff.UnixMilli()}
	if !after.IsZero() {
		ms := after.UpdatedAt.UnixMilli()
		query += ` AND (updated_at > ? OR (updated_at = ? AND token > ?))`
		args = append(args, ms, ms, after.Token)
	}
	query += ` ORDER BY updated_at, token`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing expired drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*model.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning draft: %w", err)
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(s scanner) (*model.Draft, error) {
	var d model.Draft
	var images string
	var created, updated, committed int64

	err := s.Scan(&d.Token, &d.Owner, &d.ScopeHint, &images, &created, &updated, &committed, &d.Version)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(images), &d.Images); err != nil {
		return nil, fmt.Errorf("error decoding draft images: %w", err)
	}

	d.CreatedAt = fromMillis(created)
	d.UpdatedAt = fromMillis(updated)
	d.CommittedAt = fromMillis(committed)
	return &d, nil
}

func encodeImages(images []model.ImageRef) (string, error) {
	if images == nil {
		images = []model.ImageRef{}
	}
	b, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("error encoding draft images: %w", err)
	}
	return string(b), nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
