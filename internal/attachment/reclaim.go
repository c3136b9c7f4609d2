package attachment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/metrics"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/debemdeboas/forum-attachments/internal/repository/draft"
)

// SweepStats summarizes one PurgeExpired batch.
type SweepStats struct {
	Scanned           int
	Purged            int
	SkippedReferenced int
	Failed            int

	// Position to continue from. Zero once the scan reached the end.
	Next draft.Cursor
}

type purgeOutcome int

const (
	purgeDone purgeOutcome = iota
	purgeSkipped
	purgeFailed
	// Gone or refreshed since it was listed.
	purgeNothing
)

// Reclaim deletes the managed keys nothing references anymore and returns
// them. Storage failures are logged and swallowed; the keys stay for a
// later pass.
func (s *Service) Reclaim(ctx context.Context, keys []string) []string {
	return s.reclaim(ctx, "reclaim", keys)
}

// ReclaimEdit reclaims the managed keys a content edit dropped.
func (s *Service) ReclaimEdit(ctx context.Context, before, after string) []string {
	return s.reclaim(ctx, "edit", s.codec.RemovedKeys(before, after))
}

func (s *Service) reclaim(ctx context.Context, source string, keys []string) []string {
	seen := make(map[string]bool, len(keys))
	var candidates []string
	skipped := 0
	for _, k := range keys {
		if k == "" || seen[k] || !s.codec.IsManaged(k) {
			continue
		}
		seen[k] = true

		referenced, err := s.refs.IsReferenced(ctx, k)
		if referenced || err != nil {
			skipped++
			attachLogger.Debug().Err(err).Str("key", k).Str("source", source).Msg("Key still referenced, not deleting")
			continue
		}
		candidates = append(candidates, k)
	}
	metrics.RecordSkippedReferenced(source, skipped)

	if !s.deleteUnchecked(ctx, source, candidates) {
		return nil
	}
	return candidates
}

// deleteUnchecked removes keys without consulting the reference index. Only
// for keys already verified or never exposed. Reports whether every key is
// gone.
func (s *Service) deleteUnchecked(ctx context.Context, source string, keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	n, err := s.store.DeleteMany(context.WithoutCancel(ctx), keys)
	metrics.RecordDeletions(source, n)
	if err != nil {
		metrics.RecordSwallowedFailure(source)
		attachLogger.Warn().Err(err).Strs("keys", keys).Str("source", source).Msg("Failed to delete objects")
		return false
	}
	attachLogger.Debug().Strs("keys", keys).Str("source", source).Msg("Objects deleted")
	return true
}

// purgeDraft deletes the draft's objects and then its record, unless any of
// its keys is referenced. The record outlives its objects, never the other
// way around. A committed draft only owns its temporary objects; the
// permanent ones belong to the post.
func (s *Service) purgeDraft(ctx context.Context, d *model.Draft, source string) purgeOutcome {
	var keys []string
	seen := make(map[string]bool)
	for _, img := range d.Images {
		for _, k := range s.imageKeys(img) {
			if d.Committed() && !s.codec.IsTemporary(k) {
				continue
			}
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	for _, k := range keys {
		referenced, err := s.refs.IsReferenced(ctx, k)
		if referenced || err != nil {
			metrics.RecordSkippedReferenced(source, 1)
			attachLogger.Info().Err(err).
				Str("token", string(d.Token)).
				Str("key", k).
				Msg("Draft has a referenced image, skipping")
			return purgeSkipped
		}
	}

	if !s.deleteUnchecked(ctx, source, keys) {
		return purgeFailed
	}
	if err := s.drafts.Delete(ctx, d.Token); err != nil {
		attachLogger.Warn().Err(err).Str("token", string(d.Token)).Msg("Failed to delete draft record")
		return purgeFailed
	}

	attachLogger.Debug().Str("token", string(d.Token)).Str("source", source).Int("objects", len(keys)).Msg("Draft purged")
	return purgeDone
}

// PurgeExpired collects up to limit drafts idle for longer than the TTL,
// oldest first, resuming after the cursor.
func (s *Service) PurgeExpired(ctx context.Context, limit int, after draft.Cursor) (SweepStats, error) {
	var stats SweepStats
	now := s.now()

	expired, err := s.drafts.ListExpired(ctx, now.Add(-s.cfg.DraftTTL), after, limit)
	if err != nil {
		return stats, fmt.Errorf("list expired drafts: %w", err)
	}
	if limit > 0 && len(expired) == limit {
		stats.Next = draft.CursorOf(expired[len(expired)-1])
	}

	for _, listed := range expired {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++

		switch s.purgeExpired(ctx, listed.Token, now) {
		case purgeDone:
			stats.Purged++
		case purgeSkipped:
			stats.SkippedReferenced++
		case purgeFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// purgeExpired re-reads the draft under its lock; an append may have
// refreshed it since it was listed.
func (s *Service) purgeExpired(ctx context.Context, token model.DraftToken, now time.Time) purgeOutcome {
	unlock := s.locks.lock(token)
	defer unlock()

	d, err := s.drafts.Get(ctx, token)
	if errors.Is(err, draft.ErrNotFound) {
		return purgeNothing
	} else if err != nil {
		attachLogger.Warn().Err(err).Str("token", string(token)).Msg("Failed to load draft")
		return purgeFailed
	}
	if !d.IsExpired(now, s.cfg.DraftTTL) {
		return purgeNothing
	}
	return s.purgeDraft(ctx, d, "sweep")
}
