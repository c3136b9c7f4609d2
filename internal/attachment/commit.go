package attachment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/debemdeboas/forum-attachments/internal/keys"
	"github.com/debemdeboas/forum-attachments/internal/metrics"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/debemdeboas/forum-attachments/internal/repository"
)

// CommitReason tags the revision snapshot taken before a commit rewrites
// post content.
const CommitReason = "attachment-commit"

// Commit binds the draft's images to a persisted post: it promotes what the
// post's stored content still points at, persists the rewritten content and
// removes the draft's temporary objects and record. An empty target makes
// Commit search the owner's recent posts. Committing a draft that no
// longer exists succeeds.
func (s *Service) Commit(ctx context.Context, token model.DraftToken, owner model.UserID, target model.PostID) error {
	unlock := s.locks.lock(token)
	defer unlock()

	d, err := s.drafts.Get(ctx, token)
	if err != nil {
		err = s.draftError(token, err)
		if errors.Is(err, ErrNotFound) {
			attachLogger.Debug().Str("token", string(token)).Msg("Commit of missing draft treated as done")
			return nil
		}
		return err
	}
	if d.Owner != owner {
		return fmt.Errorf("%w: draft %s", ErrForbidden, token)
	}
	if d.Committed() {
		s.finishCommit(ctx, d)
		return nil
	}

	post, err := s.resolveTarget(ctx, d, target)
	if err != nil {
		return err
	}
	if post == nil {
		if len(s.temporaryKeys(d, true)) > 0 {
			return fmt.Errorf("%w: draft %s", ErrUnresolvedTarget, token)
		}
		s.finishCommit(ctx, d)
		return nil
	}

	// Several drafts may land in one post; the draft token keeps their
	// permanent keys apart.
	res, err := s.Finalize(ctx, FinalizeInput{
		Content:      post.Content,
		Images:       d.Images,
		EntityToken:  commitEntity(post.ID, d.Token),
		AllowPartial: true,
	})
	if err != nil {
		return err
	}

	if res.Content != post.Content {
		expected := post.ContentHash
		post.Content = res.Content
		if err := s.posts.SetPostContent(ctx, post, expected, CommitReason); err != nil {
			s.rollback(ctx, res.copied)
			if errors.Is(err, repository.ErrContentConflict) {
				metrics.RecordRollback("conflict")
				return fmt.Errorf("%w: post %s changed during commit", ErrConflict, post.ID)
			}
			metrics.RecordRollback("persist_failed")
			if errors.Is(err, repository.ErrPostNotFound) {
				return fmt.Errorf("%w: post %s", ErrNotFound, post.ID)
			}
			return fmt.Errorf("persist post %s: %w", post.ID, err)
		}
	}

	d.Images = res.Images
	attachLogger.Info().
		Str("token", string(token)).
		Str("post_id", string(post.ID)).
		Int("promoted", len(res.Promoted)).
		Msg("Draft committed")

	s.finishCommit(ctx, d)
	return nil
}

func commitEntity(post model.PostID, token model.DraftToken) string {
	return string(post) + "-" + string(token)
}

// resolveTarget returns the post the draft belongs to, or nil when the
// owner's recent posts do not mention any of its images.
func (s *Service) resolveTarget(ctx context.Context, d *model.Draft, target model.PostID) (*model.Post, error) {
	if target != "" {
		post, err := s.posts.ReadPost(ctx, target)
		if errors.Is(err, repository.ErrPostNotFound) {
			return nil, fmt.Errorf("%w: post %s", ErrNotFound, target)
		} else if err != nil {
			return nil, fmt.Errorf("read post %s: %w", target, err)
		}
		if post.Owner != d.Owner {
			return nil, fmt.Errorf("%w: post %s", ErrForbidden, target)
		}
		return post, nil
	}

	if len(d.Images) == 0 {
		return nil, nil
	}
	since := d.CreatedAt.Add(-s.cfg.TargetSearchWindow)
	posts, err := s.posts.RecentByOwner(ctx, d.Owner, since, s.cfg.TargetSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search recent posts: %w", err)
	}
	for _, p := range posts {
		if s.mentionsDraft(p.Content, d) {
			attachLogger.Debug().
				Str("token", string(d.Token)).
				Str("post_id", string(p.ID)).
				Msg("Commit target resolved by content search")
			return p, nil
		}
	}
	return nil, nil
}

func (s *Service) mentionsDraft(content string, d *model.Draft) bool {
	for _, img := range d.Images {
		if strings.Contains(content, keys.Placeholder(img.ID)) || strings.Contains(content, img.Key) {
			return true
		}
		if img.LegacyURL != "" {
			if k := s.codec.ExtractKey(img.LegacyURL); k != "" && strings.Contains(content, k) {
				return true
			}
		}
	}
	return false
}

// finishCommit deletes the draft's temporary objects and then its record.
// Objects that are still referenced or fail to delete keep the draft
// around, marked committed, for the sweeper to retry.
func (s *Service) finishCommit(ctx context.Context, d *model.Draft) {
	deleted := make(map[string]bool)
	for _, k := range s.reclaim(ctx, "commit", s.temporaryKeys(d, false)) {
		deleted[k] = true
	}

	var left []model.ImageRef
	for _, img := range d.Images {
		for _, k := range s.imageKeys(img) {
			if s.codec.IsTemporary(k) && !deleted[k] {
				left = append(left, img)
				break
			}
		}
	}

	if len(left) == 0 {
		if err := s.drafts.Delete(ctx, d.Token); err != nil {
			attachLogger.Warn().Err(err).Str("token", string(d.Token)).Msg("Failed to delete committed draft")
		}
		return
	}

	d.Images = left
	if !d.Committed() {
		d.CommittedAt = s.now()
	}
	if err := s.drafts.Save(ctx, d); err != nil {
		attachLogger.Warn().Err(err).Str("token", string(d.Token)).Msg("Failed to mark draft committed")
		return
	}
	attachLogger.Warn().
		Str("token", string(d.Token)).
		Int("images", len(left)).
		Msg("Committed draft kept until its temporary objects are gone")
}

// temporaryKeys lists the draft's temporary objects. With activeOnly, keys
// only remembered through a legacy URL are left out.
func (s *Service) temporaryKeys(d *model.Draft, activeOnly bool) []string {
	var out []string
	for _, img := range d.Images {
		if activeOnly {
			if s.codec.IsTemporary(img.Key) {
				out = append(out, img.Key)
			}
			continue
		}
		for _, k := range s.imageKeys(img) {
			if s.codec.IsTemporary(k) {
				out = append(out, k)
			}
		}
	}
	return out
}

// imageKeys returns the managed keys an image accounts for: its current key
// and the key its legacy URL pointed at.
func (s *Service) imageKeys(img model.ImageRef) []string {
	var out []string
	if s.codec.IsManaged(img.Key) {
		out = append(out, img.Key)
	}
	if img.LegacyURL != "" {
		if k := s.codec.ExtractKey(img.LegacyURL); k != "" && k != img.Key && s.codec.IsManaged(k) {
			out = append(out, k)
		}
	}
	return out
}
