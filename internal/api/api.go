// Package api exposes the attachment service and the post store over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/attachment"
	"github.com/debemdeboas/forum-attachments/internal/auth"
	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/imageproc"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/debemdeboas/forum-attachments/internal/repository"
	"github.com/debemdeboas/forum-attachments/internal/routes"
	"github.com/rs/zerolog"
)

type Handler struct {
	svc   *attachment.Service
	posts repository.PostRepository
	auth  auth.AuthProvider

	maxUploadBytes int64
}

func NewHandler(svc *attachment.Service, posts repository.PostRepository, authProvider auth.AuthProvider, maxUploadBytes int64) *Handler {
	return &Handler{
		svc:            svc,
		posts:          posts,
		auth:           authProvider,
		maxUploadBytes: maxUploadBytes,
	}
}

// Register mounts every endpoint on mux using method patterns.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+routes.APIDrafts, h.createDraft)
	mux.HandleFunc("GET "+routes.APIDraft, h.getDraft)
	mux.HandleFunc("DELETE "+routes.APIDraft, h.deleteDraft)
	mux.HandleFunc("POST "+routes.APIDraftImages, h.appendImage)
	mux.HandleFunc("POST "+routes.APIDraftFinalize, h.finalizeDraft)
	mux.HandleFunc("POST "+routes.APIDraftCommit, h.commitDraft)

	mux.HandleFunc("POST "+routes.APIPosts, h.createPost)
	mux.HandleFunc("GET "+routes.APIPost, h.getPost)
	mux.HandleFunc("PUT "+routes.APIPost, h.updatePost)
}

type draftResponse struct {
	Token     model.DraftToken `json:"token"`
	Owner     model.UserID     `json:"owner"`
	ScopeHint string           `json:"scopeHint,omitempty"`
	Images    []model.ImageRef `json:"images"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func newDraftResponse(d *model.Draft) draftResponse {
	images := d.Images
	if images == nil {
		images = []model.ImageRef{}
	}
	return draftResponse{
		Token:     d.Token,
		Owner:     d.Owner,
		ScopeHint: d.ScopeHint,
		Images:    images,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type finalizeResponse struct {
	Content  string           `json:"content"`
	Images   []model.ImageRef `json:"images"`
	Promoted []model.ImageID  `json:"promoted"`
}

type postResponse struct {
	ID           model.PostID   `json:"id"`
	Kind         model.PostKind `json:"kind"`
	ParentID     model.PostID   `json:"parentId,omitempty"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	ContentHash  string         `json:"contentHash"`
	Owner        model.UserID   `json:"owner"`
	CreatedDate  time.Time      `json:"createdAt"`
	ModifiedDate time.Time      `json:"modifiedAt"`
}

func newPostResponse(p *model.Post) postResponse {
	return postResponse{
		ID:           p.ID,
		Kind:         p.Kind,
		ParentID:     p.ParentID,
		Title:        p.Title,
		Content:      p.Content,
		ContentHash:  p.ContentHash,
		Owner:        p.Owner,
		CreatedDate:  p.CreatedDate,
		ModifiedDate: p.ModifiedDate,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set(config.HCType, config.CTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps service and repository errors to status codes. Anything
// unrecognized is logged and reported as a 500 without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		msg = http.StatusText(status)
	} else {
		zerolog.Ctx(r.Context()).Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	writeJSON(w, r, status, errorResponse{Error: msg})
}

func statusOf(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, attachment.ErrNotFound), errors.Is(err, repository.ErrPostNotFound):
		return http.StatusNotFound
	case errors.Is(err, attachment.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, attachment.ErrExpired):
		return http.StatusGone
	case errors.Is(err, attachment.ErrIncompleteAttachment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attachment.ErrUnresolvedTarget),
		errors.Is(err, attachment.ErrConflict),
		errors.Is(err, repository.ErrContentConflict):
		return http.StatusConflict
	case errors.Is(err, attachment.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, imageproc.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, imageproc.ErrEmptyPayload),
		errors.Is(err, imageproc.ErrInvalidFormat),
		errors.Is(err, imageproc.ErrDimensionsExceeded):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
