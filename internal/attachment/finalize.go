package attachment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/debemdeboas/forum-attachments/internal/keys"
	"github.com/debemdeboas/forum-attachments/internal/metrics"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"golang.org/x/sync/errgroup"
)

type FinalizeInput struct {
	Content string
	Images  []model.ImageRef
	// Names the permanent keys: {prefix}/YYYY/MM/{EntityToken}-{n}.ext
	EntityToken  string
	AllowPartial bool
}

type FinalizeResult struct {
	Content string
	// Images with promoted entries pointing at their permanent keys. Order
	// matches the input.
	Images   []model.ImageRef
	Promoted []model.ImageID

	// Permanent keys written by this pass.
	copied []string
}

type promotion struct {
	index int
	src   string
	dst   string
}

// Finalize promotes every temporary image the content still points at and
// rewrites the content to use permanent URLs. On failure the objects this
// call wrote are removed unless something already references them, and the
// original content is returned.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error) {
	unchanged := FinalizeResult{Content: in.Content, Images: in.Images}
	if in.EntityToken == "" {
		return unchanged, fmt.Errorf("finalize: missing entity token")
	}

	images := make([]model.ImageRef, len(in.Images))
	copy(images, in.Images)

	referenced := make(map[string]bool)
	for _, r := range s.codec.Refs(in.Content) {
		referenced[r.Key] = true
	}

	now := s.now()
	var jobs []promotion
	for i, img := range images {
		if !s.mentioned(in.Content, img, referenced) || !s.codec.IsTemporary(img.Key) {
			continue
		}
		jobs = append(jobs, promotion{
			index: i,
			src:   img.Key,
			dst:   s.codec.PermanentKey(in.EntityToken, i+1, keys.Ext(img.Key), now),
		})
	}

	copied, err := s.promote(ctx, jobs)
	if err != nil {
		s.rollback(ctx, copied)
		metrics.RecordRollback("copy_failed")
		return unchanged, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	promoted := make([]model.ImageID, 0, len(jobs))
	for _, j := range jobs {
		img := &images[j.index]
		img.LegacyURL = img.URL
		img.Key = j.dst
		img.URL = s.codec.URL(j.dst)
		promoted = append(promoted, img.ID)
	}

	content := s.rewrite(in.Content, in.Images, images)

	if !in.AllowPartial {
		if missing := keys.Placeholders(content); len(missing) > 0 {
			s.rollback(ctx, copied)
			metrics.RecordRollback("incomplete")
			return unchanged, fmt.Errorf("%w: no image for %v", ErrIncompleteAttachment, missing)
		}
	}

	if len(promoted) > 0 {
		attachLogger.Debug().
			Str("entity", in.EntityToken).
			Int("promoted", len(promoted)).
			Msg("Images promoted")
	}
	return FinalizeResult{
		Content:  content,
		Images:   images,
		Promoted: promoted,
		copied:   copied,
	}, nil
}

// rollback removes copies a failed promotion wrote. A copy can land on a key
// an earlier promotion already published, so the references are checked
// first.
func (s *Service) rollback(ctx context.Context, copied []string) {
	s.reclaim(context.WithoutCancel(ctx), "rollback", copied)
}

// promote issues the copies concurrently and returns the destinations that
// were written, also when another copy failed.
func (s *Service) promote(ctx context.Context, jobs []promotion) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	var (
		mu     sync.Mutex
		copied []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PromoteConcurrency)
	for _, j := range jobs {
		g.Go(func() error {
			err := s.store.Copy(gctx, j.src, j.dst)
			metrics.RecordPromotion(err == nil)
			if err != nil {
				return fmt.Errorf("promote %s: %w", j.src, err)
			}
			mu.Lock()
			copied = append(copied, j.dst)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return copied, err
}

// mentioned reports whether content still points at img through its
// placeholder, its current key or its legacy URL.
func (s *Service) mentioned(content string, img model.ImageRef, referenced map[string]bool) bool {
	if strings.Contains(content, keys.Placeholder(img.ID)) || referenced[img.Key] {
		return true
	}
	if img.LegacyURL != "" {
		if k := s.codec.ExtractKey(img.LegacyURL); k != "" && referenced[k] {
			return true
		}
	}
	return false
}

// rewrite points every stale reference and placeholder at the image's
// current URL.
func (s *Service) rewrite(content string, before, after []model.ImageRef) string {
	repl := make(map[string]string)
	for i, img := range after {
		if old := before[i].Key; old != img.Key {
			repl[old] = img.URL
		}
		if img.LegacyURL != "" {
			if k := s.codec.ExtractKey(img.LegacyURL); k != "" && k != img.Key {
				repl[k] = img.URL
			}
		}
	}
	content = s.codec.Rewrite(content, repl)

	for _, img := range after {
		content = strings.ReplaceAll(content, keys.Placeholder(img.ID), img.URL)
	}
	return content
}

// FinalizeDraft runs Finalize with the draft's images and records the
// promoted keys on the draft.
func (s *Service) FinalizeDraft(ctx context.Context, token model.DraftToken, owner model.UserID, content string, allowPartial bool) (FinalizeResult, error) {
	unlock := s.locks.lock(token)
	defer unlock()

	d, err := s.loadOwned(ctx, token, owner)
	if err != nil {
		return FinalizeResult{Content: content}, err
	}
	now := s.now()
	if d.IsExpired(now, s.cfg.DraftTTL) {
		s.purgeAsync(ctx, token)
		return FinalizeResult{Content: content}, fmt.Errorf("%w: %s", ErrExpired, token)
	}

	res, err := s.Finalize(ctx, FinalizeInput{
		Content:      content,
		Images:       d.Images,
		EntityToken:  string(d.Token),
		AllowPartial: allowPartial,
	})
	if err != nil || len(res.Promoted) == 0 {
		return res, err
	}

	d.Images = res.Images
	d.UpdatedAt = now
	if err := s.drafts.Save(ctx, d); err != nil {
		s.rollback(ctx, res.copied)
		metrics.RecordRollback("draft_save")
		return FinalizeResult{Content: content}, s.draftError(token, err)
	}
	return res, nil
}
