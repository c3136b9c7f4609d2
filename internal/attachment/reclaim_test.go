package attachment

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/debemdeboas/forum-attachments/internal/objectstore"
	"github.com/debemdeboas/forum-attachments/internal/repository/draft"
)

type brokenIndex struct{}

func (brokenIndex) IsReferenced(context.Context, string) (bool, error) {
	return true, errors.New("corpus unavailable")
}

func TestReclaim(t *testing.T) {
	ctx := context.Background()
	const (
		live    = "forum/posts/2024/05/p-1.png"
		orphan  = "forum/posts/2024/05/p-2.png"
		legacy  = "forum/images/old.jpg"
		foreign = "avatars/u1.png"
	)

	t.Run("Never deletes referenced keys", func(t *testing.T) {
		h := newHarness(t)
		for _, k := range []string{live, orphan, legacy, foreign} {
			h.store.Put(ctx, k, []byte("x"), "image/png")
		}
		h.savePost(t, "u1", `<img src="`+h.codec.URL(live)+`">`)

		deleted := h.svc.Reclaim(ctx, []string{live, orphan, orphan, legacy, foreign, ""})
		if !reflect.DeepEqual(deleted, []string{orphan, legacy}) {
			t.Errorf("Reclaim() = %v", deleted)
		}
		if !h.exists(live) {
			t.Error("Referenced key was deleted")
		}
		if !h.exists(foreign) {
			t.Error("Unmanaged key was deleted")
		}
	})

	t.Run("Edit removes dropped images", func(t *testing.T) {
		h := newHarness(t)
		h.store.Put(ctx, live, []byte("x"), "image/png")
		h.store.Put(ctx, orphan, []byte("x"), "image/png")

		before := `<img src="` + h.codec.URL(live) + `"><img src="` + h.codec.URL(orphan) + `">`
		after := `<img src="` + h.codec.URL(live) + `">`
		h.savePost(t, "u1", after)

		if deleted := h.svc.ReclaimEdit(ctx, before, after); !reflect.DeepEqual(deleted, []string{orphan}) {
			t.Errorf("ReclaimEdit() = %v", deleted)
		}
		if !h.exists(live) || h.exists(orphan) {
			t.Errorf("Unexpected objects after edit: %v", h.store.Keys())
		}
	})

	t.Run("Image shared with another post survives the edit", func(t *testing.T) {
		h := newHarness(t)
		h.store.Put(ctx, orphan, []byte("x"), "image/png")
		h.savePost(t, "u2", "quoted: "+h.codec.URL(orphan))

		if deleted := h.svc.ReclaimEdit(ctx, h.codec.URL(orphan), "text only"); len(deleted) != 0 {
			t.Errorf("Expected nothing deleted, got %v", deleted)
		}
		if !h.exists(orphan) {
			t.Error("Shared image was deleted")
		}
	})

	t.Run("Lookup failures block deletion", func(t *testing.T) {
		h := newHarness(t, withRefs(brokenIndex{}))
		h.store.Put(ctx, orphan, []byte("x"), "image/png")

		if deleted := h.svc.Reclaim(ctx, []string{orphan}); len(deleted) != 0 {
			t.Errorf("Expected nothing deleted, got %v", deleted)
		}
		if !h.exists(orphan) {
			t.Error("Key deleted although the reference lookup failed")
		}
	})

	t.Run("Storage failures are swallowed", func(t *testing.T) {
		h := newHarness(t)
		h.store.Put(ctx, orphan, []byte("x"), "image/png")
		h.store.FailOn(objectstore.OpDelete, func(string) error { return errors.New("unavailable") })

		if deleted := h.svc.Reclaim(ctx, []string{orphan}); deleted != nil {
			t.Errorf("Expected nil on storage failure, got %v", deleted)
		}
	})
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("TTL boundary", func(t *testing.T) {
		h := newHarness(t)
		old := h.newDraft(t, "u1")
		oldImg := h.appendImage(t, old)

		h.clock.Advance(2 * time.Millisecond)
		fresh := h.newDraft(t, "u1")
		freshImg := h.appendImage(t, fresh)

		// old: now - updatedAt = TTL + 1ms. fresh: TTL - 1ms.
		h.clock.Set(testEpoch.Add(testTTL + time.Millisecond))
		if !old.IsExpired(h.clock.Now(), testTTL) || fresh.IsExpired(h.clock.Now(), testTTL) {
			t.Fatal("Unexpected expiry predicate")
		}

		stats, err := h.svc.PurgeExpired(ctx, 10, draft.Cursor{})
		if err != nil {
			t.Fatalf("PurgeExpired returned error: %v", err)
		}
		if stats.Scanned != 1 || stats.Purged != 1 || !stats.Next.IsZero() {
			t.Errorf("Unexpected stats %+v", stats)
		}
		if _, err := h.drafts.Get(ctx, old.Token); !errors.Is(err, draft.ErrNotFound) {
			t.Errorf("Expected expired draft to be purged, got %v", err)
		}
		if h.exists(oldImg.Key) {
			t.Error("Expected expired draft's object to be deleted")
		}
		if _, err := h.drafts.Get(ctx, fresh.Token); err != nil {
			t.Errorf("Fresh draft was purged: %v", err)
		}
		if !h.exists(freshImg.Key) {
			t.Error("Fresh draft's object was deleted")
		}
	})

	t.Run("Referenced drafts are skipped without refreshing", func(t *testing.T) {
		h := newHarness(t)
		d := h.newDraft(t, "u1")
		img := h.appendImage(t, d)
		h.savePost(t, "u1", `<img src="`+img.URL+`">`)

		h.clock.Advance(testTTL + time.Hour)
		stats, err := h.svc.PurgeExpired(ctx, 10, draft.Cursor{})
		if err != nil {
			t.Fatal(err)
		}
		if stats.SkippedReferenced != 1 || stats.Purged != 0 {
			t.Errorf("Unexpected stats %+v", stats)
		}
		stored, err := h.drafts.Get(ctx, d.Token)
		if err != nil {
			t.Fatalf("Referenced draft was deleted: %v", err)
		}
		if !stored.UpdatedAt.Equal(d.UpdatedAt) {
			t.Errorf("Skipping must not refresh the TTL: %v -> %v", d.UpdatedAt, stored.UpdatedAt)
		}
		if !h.exists(img.Key) {
			t.Error("Referenced object was deleted")
		}
	})

	t.Run("Failed deletes keep the record", func(t *testing.T) {
		h := newHarness(t)
		d := h.newDraft(t, "u1")
		img := h.appendImage(t, d)
		h.clock.Advance(testTTL + time.Hour)

		h.store.FailOn(objectstore.OpDelete, func(string) error { return errors.New("unavailable") })
		stats, err := h.svc.PurgeExpired(ctx, 10, draft.Cursor{})
		if err != nil {
			t.Fatal(err)
		}
		if stats.Failed != 1 {
			t.Errorf("Unexpected stats %+v", stats)
		}
		if _, err := h.drafts.Get(ctx, d.Token); err != nil {
			t.Errorf("Record deleted before its objects: %v", err)
		}

		h.store.FailOn(objectstore.OpDelete, nil)
		if stats, _ := h.svc.PurgeExpired(ctx, 10, draft.Cursor{}); stats.Purged != 1 {
			t.Errorf("Expected retry to purge, got %+v", stats)
		}
		if h.exists(img.Key) {
			t.Error("Object left after retry")
		}
	})

	t.Run("Batches resume from the cursor", func(t *testing.T) {
		h := newHarness(t)
		var tokens []model.DraftToken
		for range 3 {
			d := h.newDraft(t, "u1")
			img := h.appendImage(t, d)
			h.savePost(t, "u1", img.URL)
			tokens = append(tokens, d.Token)
			h.clock.Advance(time.Millisecond)
		}
		h.clock.Advance(testTTL + time.Hour)

		first, err := h.svc.PurgeExpired(ctx, 2, draft.Cursor{})
		if err != nil {
			t.Fatal(err)
		}
		if first.Scanned != 2 || first.SkippedReferenced != 2 || first.Next.Token != tokens[1] {
			t.Fatalf("Unexpected first batch %+v", first)
		}
		second, err := h.svc.PurgeExpired(ctx, 2, first.Next)
		if err != nil {
			t.Fatal(err)
		}
		if second.Scanned != 1 || !second.Next.IsZero() {
			t.Errorf("Unexpected second batch %+v", second)
		}
	})
}
