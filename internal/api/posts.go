package api

import (
	"net/http"

	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/debemdeboas/forum-attachments/internal/routes"
	"github.com/rs/zerolog"
)

// EditReason tags revisions written by user edits.
const EditReason = "edit"

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.EnforceActor(w, r)
	if err != nil {
		return
	}

	post := h.posts.NewPost()
	post.Owner = actor.ID
	post.Title = r.FormValue(config.FormTitle)
	post.Content = r.FormValue(config.FormContent)
	post.ParentID = model.PostID(r.FormValue(config.FormParentID))

	switch kind := model.PostKind(r.FormValue(config.FormKind)); kind {
	case "", model.PostKindThread:
		post.Kind = model.PostKindThread
	case model.PostKindComment:
		if post.ParentID == "" {
			writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "comments require a parent"})
			return
		}
		post.Kind = kind
	default:
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "unknown post kind"})
		return
	}

	if post.Title == "" {
		post.Title = "Untitled - " + post.CreatedDate.Format("2006-01-02")
	}

	if err := h.posts.SavePost(r.Context(), post); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newPostResponse(post))
}

func (h *Handler) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.posts.ReadPost(r.Context(), model.PostID(r.PathValue(routes.ParamID)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newPostResponse(post))
}

// updatePost replaces a post's content and then deletes the managed objects
// the edit stopped referencing, unless something else still points at them.
func (h *Handler) updatePost(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.EnforceActor(w, r)
	if err != nil {
		return
	}

	post, err := h.posts.ReadPost(r.Context(), model.PostID(r.PathValue(routes.ParamID)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if post.Owner != actor.ID {
		writeJSON(w, r, http.StatusForbidden, errorResponse{Error: "not the post owner"})
		return
	}

	expected := post.ContentHash
	if hash := r.FormValue(config.FormContentHash); hash != "" {
		expected = hash
	}

	before := post.Content
	post.Content = r.FormValue(config.FormContent)
	if title := r.FormValue(config.FormTitle); title != "" {
		post.Title = title
	}

	if err := h.posts.SetPostContent(r.Context(), post, expected, EditReason); err != nil {
		writeError(w, r, err)
		return
	}

	if removed := h.svc.ReclaimEdit(r.Context(), before, post.Content); len(removed) > 0 {
		zerolog.Ctx(r.Context()).Info().
			Str("post_id", string(post.ID)).
			Strs("keys", removed).
			Msg("Reclaimed objects dropped by edit")
	}
	writeJSON(w, r, http.StatusOK, newPostResponse(post))
}
