package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/debemdeboas/forum-attachments/internal/routes"
	"github.com/rs/zerolog"
)

func draftToken(r *http.Request) model.DraftToken {
	return model.DraftToken(r.PathValue(routes.ParamToken))
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.EnforceCanAttach(w, r)
	if err != nil {
		return
	}

	d, err := h.svc.CreateDraft(r.Context(), actor.ID, r.FormValue(config.FormScopeHint))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newDraftResponse(d))
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.EnforceActor(w, r)
	if err != nil {
		return
	}

	d, err := h.svc.Draft(r.Context(), draftToken(r), actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newDraftResponse(d))
}

func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.EnforceActor(w, r)
	if err != nil {
		return
	}

	if err := h.svc.DeleteDraft(r.Context(), draftToken(r), actor.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) appendImage(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.EnforceCanAttach(w, r)
	if err != nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(config.FormImage)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "image file required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	img, err := h.svc.AppendImage(r.Context(), draftToken(r), actor.ID, data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Debug().
		Str("filename", header.Filename).
		Str("image_id", string(img.ID)).
		Msg("Image attached")
	writeJSON(w, r, http.StatusCreated, img)
}

func (h *Handler) finalizeDraft(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.EnforceActor(w, r)
	if err != nil {
		return
	}

	allowPartial, _ := strconv.ParseBool(r.FormValue(config.FormAllowPartial))
	res, err := h.svc.FinalizeDraft(r.Context(), draftToken(r), actor.ID, r.FormValue(config.FormContent), allowPartial)
	if err != nil {
		writeError(w, r, err)
		return
	}

	promoted := res.Promoted
	if promoted == nil {
		promoted = []model.ImageID{}
	}
	writeJSON(w, r, http.StatusOK, finalizeResponse{
		Content:  res.Content,
		Images:   res.Images,
		Promoted: promoted,
	})
}

func (h *Handler) commitDraft(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.EnforceActor(w, r)
	if err != nil {
		return
	}

	target := model.PostID(r.FormValue(config.FormPostID))
	if err := h.svc.Commit(r.Context(), draftToken(r), actor.ID, target); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
