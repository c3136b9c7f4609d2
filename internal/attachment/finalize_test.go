package attachment

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/debemdeboas/forum-attachments/internal/keys"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/debemdeboas/forum-attachments/internal/objectstore"
)

var permanentURL = regexp.MustCompile(`^` + regexp.QuoteMeta(testBaseURL) + `/forum/posts/2024/05/[A-Za-z0-9_.-]+-[0-9]+\.png$`)

// TestDraftLifecycle walks a draft from upload to commit.
func TestDraftLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	d := h.newDraft(t, "u1")
	a, b := h.appendImage(t, d), h.appendImage(t, d)
	content := "<p>" + keys.Placeholder(a.ID) + keys.Placeholder(b.ID) + "</p>"

	res, err := h.svc.FinalizeDraft(ctx, d.Token, "u1", content, false)
	if err != nil {
		t.Fatalf("FinalizeDraft returned error: %v", err)
	}
	if len(res.Images) != 2 || len(res.Promoted) != 2 {
		t.Fatalf("Expected both images promoted, got %+v", res)
	}
	for i, img := range res.Images {
		if !permanentURL.MatchString(img.URL) {
			t.Errorf("Image %d URL %q does not match the permanent layout", i, img.URL)
		}
		if img.URL != h.codec.URL(img.Key) {
			t.Errorf("Image %d URL not derived from key", i)
		}
		if !h.exists(img.Key) {
			t.Errorf("Permanent object %s missing", img.Key)
		}
	}
	if res.Images[0].LegacyURL != a.URL || res.Images[1].LegacyURL != b.URL {
		t.Errorf("Expected legacy URLs to hold the temporary URLs, got %+v", res.Images)
	}
	want := "<p>" + res.Images[0].URL + res.Images[1].URL + "</p>"
	if res.Content != want {
		t.Errorf("Finalized content = %q, want %q", res.Content, want)
	}
	if h.store.Copies() != 2 {
		t.Errorf("Expected 2 copies, got %d", h.store.Copies())
	}

	again, err := h.svc.FinalizeDraft(ctx, d.Token, "u1", res.Content, false)
	if err != nil {
		t.Fatalf("Second FinalizeDraft returned error: %v", err)
	}
	if again.Content != res.Content || h.store.Copies() != 2 {
		t.Errorf("Re-finalizing was not a no-op: content %q, copies %d", again.Content, h.store.Copies())
	}

	post := h.savePost(t, "u1", res.Content)
	if err := h.svc.Commit(ctx, d.Token, "u1", post.ID); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if h.exists(a.Key) || h.exists(b.Key) {
		t.Error("Expected temporary objects to be deleted after commit")
	}
	for _, img := range res.Images {
		if !h.exists(img.Key) {
			t.Errorf("Commit deleted permanent object %s", img.Key)
		}
	}
	if _, err := h.drafts.Get(ctx, d.Token); err == nil {
		t.Error("Expected draft record to be deleted after commit")
	}
	if err := h.svc.Commit(ctx, d.Token, "u1", post.ID); err != nil {
		t.Errorf("Retried commit returned error: %v", err)
	}
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()

	t.Run("Idempotent promotion", func(t *testing.T) {
		h := newHarness(t)
		d := h.newDraft(t, "u1")
		a := h.appendImage(t, d)
		in := FinalizeInput{
			Content:     `<img src="` + a.URL + `?w=300">`,
			Images:      []model.ImageRef{a},
			EntityToken: "post-1",
		}

		first, err := h.svc.Finalize(ctx, in)
		if err != nil {
			t.Fatalf("Finalize returned error: %v", err)
		}
		if first.Content != `<img src="`+first.Images[0].URL+`">` {
			t.Errorf("Unexpected content %q", first.Content)
		}

		// Same stale image list, already finalized content.
		in.Content = first.Content
		second, err := h.svc.Finalize(ctx, in)
		if err != nil {
			t.Fatalf("Finalize returned error: %v", err)
		}
		if second.Content != first.Content || len(second.Promoted) != 0 {
			t.Errorf("Second pass changed something: %+v", second)
		}

		// Promoted image list, original placeholder content.
		third, err := h.svc.Finalize(ctx, FinalizeInput{
			Content:     keys.Placeholder(a.ID),
			Images:      first.Images,
			EntityToken: "post-1",
		})
		if err != nil {
			t.Fatalf("Finalize returned error: %v", err)
		}
		if third.Content != first.Images[0].URL {
			t.Errorf("Expected placeholder to resolve to the permanent URL, got %q", third.Content)
		}
		if h.store.Copies() != 1 {
			t.Errorf("Expected a single copy across all passes, got %d", h.store.Copies())
		}
	})

	t.Run("Legacy URL in stale content is rewritten", func(t *testing.T) {
		h := newHarness(t)
		d := h.newDraft(t, "u1")
		a := h.appendImage(t, d)

		first, err := h.svc.Finalize(ctx, FinalizeInput{Content: keys.Placeholder(a.ID), Images: []model.ImageRef{a}, EntityToken: "p"})
		if err != nil {
			t.Fatal(err)
		}
		stale := "see " + a.URL
		res, err := h.svc.Finalize(ctx, FinalizeInput{Content: stale, Images: first.Images, EntityToken: "p"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Content != "see "+first.Images[0].URL {
			t.Errorf("Stale reference not rewritten: %q", res.Content)
		}
		if h.store.Copies() != 1 {
			t.Errorf("Expected no copy for a permanent image, got %d copies", h.store.Copies())
		}
	})

	t.Run("Unmatched placeholder rolls back", func(t *testing.T) {
		h := newHarness(t)
		d := h.newDraft(t, "u1")
		a := h.appendImage(t, d)
		content := "<p>" + keys.Placeholder(a.ID) + "[img-missing0000]</p>"

		res, err := h.svc.Finalize(ctx, FinalizeInput{Content: content, Images: []model.ImageRef{a}, EntityToken: "p"})
		if !errors.Is(err, ErrIncompleteAttachment) {
			t.Fatalf("Expected ErrIncompleteAttachment, got %v", err)
		}
		if res.Content != content {
			t.Errorf("Expected original content on failure, got %q", res.Content)
		}
		if perm := h.permanentKeys(); len(perm) != 0 {
			t.Errorf("Expected no permanent objects left, got %v", perm)
		}
		if !h.exists(a.Key) {
			t.Error("Rollback must not touch the temporary object")
		}

		res, err = h.svc.Finalize(ctx, FinalizeInput{Content: content, Images: []model.ImageRef{a}, EntityToken: "p", AllowPartial: true})
		if err != nil {
			t.Fatalf("Partial finalize returned error: %v", err)
		}
		if !strings.Contains(res.Content, "[img-missing0000]") || strings.Contains(res.Content, keys.Placeholder(a.ID)) {
			t.Errorf("Unexpected partial content %q", res.Content)
		}
	})

	t.Run("Copy failure rolls back", func(t *testing.T) {
		h := newHarness(t)
		d := h.newDraft(t, "u1")
		a, b := h.appendImage(t, d), h.appendImage(t, d)
		content := keys.Placeholder(a.ID) + keys.Placeholder(b.ID)

		h.store.FailOn(objectstore.OpCopy, func(dst string) error {
			if strings.HasSuffix(dst, "-2.png") {
				return errors.New("copy failed")
			}
			return nil
		})
		res, err := h.svc.Finalize(ctx, FinalizeInput{Content: content, Images: []model.ImageRef{a, b}, EntityToken: "p"})
		if !errors.Is(err, ErrStorageUnavailable) {
			t.Fatalf("Expected ErrStorageUnavailable, got %v", err)
		}
		if res.Content != content {
			t.Errorf("Expected original content, got %q", res.Content)
		}
		if perm := h.permanentKeys(); len(perm) != 0 {
			t.Errorf("Expected copies to be rolled back, got %v", perm)
		}
	})

	t.Run("Rollback spares published keys", func(t *testing.T) {
		h := newHarness(t)
		d := h.newDraft(t, "u1")
		a := h.appendImage(t, d)
		first, err := h.svc.Finalize(ctx, FinalizeInput{Content: keys.Placeholder(a.ID), Images: []model.ImageRef{a}, EntityToken: "p"})
		if err != nil {
			t.Fatal(err)
		}
		h.savePost(t, "u1", `<img src="`+first.Content+`">`)
		published := first.Images[0].Key

		other := h.newDraft(t, "u1")
		b, c := h.appendImage(t, other), h.appendImage(t, other)
		h.store.FailOn(objectstore.OpCopy, func(dst string) error {
			if strings.HasSuffix(dst, "-2.png") {
				return errors.New("copy failed")
			}
			return nil
		})
		_, err = h.svc.Finalize(ctx, FinalizeInput{
			Content:     keys.Placeholder(b.ID) + keys.Placeholder(c.ID),
			Images:      []model.ImageRef{b, c},
			EntityToken: "p",
		})
		if !errors.Is(err, ErrStorageUnavailable) {
			t.Fatalf("Expected ErrStorageUnavailable, got %v", err)
		}
		if !h.exists(published) {
			t.Error("Rollback deleted a key a post references")
		}
	})

	t.Run("Cancelled request still rolls back", func(t *testing.T) {
		h := newHarness(t)
		d := h.newDraft(t, "u1")
		a := h.appendImage(t, d)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := h.svc.Finalize(cctx, FinalizeInput{
			Content:     keys.Placeholder(a.ID) + "[img-nope00000000]",
			Images:      []model.ImageRef{a},
			EntityToken: "p",
		})
		if !errors.Is(err, ErrIncompleteAttachment) {
			t.Fatalf("Expected ErrIncompleteAttachment, got %v", err)
		}
		if perm := h.permanentKeys(); len(perm) != 0 {
			t.Errorf("Expected rollback despite cancellation, got %v", perm)
		}
	})

	t.Run("Draft finalize errors", func(t *testing.T) {
		h := newHarness(t)
		d := h.newDraft(t, "u1")

		if _, err := h.svc.FinalizeDraft(ctx, d.Token, "u2", "", false); !errors.Is(err, ErrForbidden) {
			t.Errorf("Expected ErrForbidden, got %v", err)
		}
		if _, err := h.svc.FinalizeDraft(ctx, "missing", "u1", "", false); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		h.clock.Advance(testTTL + 1)
		if _, err := h.svc.FinalizeDraft(ctx, d.Token, "u1", "", false); !errors.Is(err, ErrExpired) {
			t.Errorf("Expected ErrExpired, got %v", err)
		}
	})
}
