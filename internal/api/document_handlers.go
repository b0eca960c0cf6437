package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/auth"
	"bloomxr.dev/meshstudio/internal/core"
	"bloomxr.dev/meshstudio/internal/store"
)

// writeDocumentError maps service errors onto HTTP statuses. notFound is
// the message used for store.ErrNotFound.
func (h *APIHandler) writeDocumentError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, core.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrConsentRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("document request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *APIHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (h *APIHandler) GalleryHandler(w http.ResponseWriter, r *http.Request) {
	q := core.GalleryQuery{
		Search: r.URL.Query().Get("search"),
		Sort:   r.URL.Query().Get("sort"),
	}
	if q.Sort != "" && q.Sort != core.SortNewest && q.Sort != core.SortOldest {
		writeError(w, http.StatusBadRequest, "sort must be newest or oldest")
		return
	}

	models, err := h.models.Gallery(r.Context(), q)
	if err != nil {
		h.writeDocumentError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, models)
}

type shareModelRequest struct {
	Name        string   `json:"name" validate:"required,max=120,no_markup"`
	Description string   `json:"description" validate:"max=2000,no_markup"`
	ModelURL    string   `json:"modelUrl" validate:"required,http_url"`
	Visibility  string   `json:"visibility" validate:"omitempty,oneof=public private"`
	Tags        []string `json:"tags" validate:"max=20,dive,max=40,no_markup"`
}

func (h *APIHandler) ShareModelHandler(w http.ResponseWriter, r *http.Request) {
	var req shareModelRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.models.Share(r.Context(), auth.IdentityFrom(r.Context()), core.ShareModelInput{
		Name:        req.Name,
		Description: req.Description,
		ModelURL:    req.ModelURL,
		Visibility:  store.Visibility(req.Visibility),
		Tags:        req.Tags,
	})
	if err != nil {
		h.writeDocumentError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type updateModelRequest struct {
	Name        *string   `json:"name" validate:"omitempty,max=120,no_markup"`
	Description *string   `json:"description" validate:"omitempty,max=2000,no_markup"`
	Visibility  *string   `json:"visibility" validate:"omitempty,oneof=public private"`
	Tags        *[]string `json:"tags" validate:"omitempty,max=20,dive,max=40,no_markup"`
}

func (h *APIHandler) UpdateModelHandler(w http.ResponseWriter, r *http.Request) {
	var req updateModelRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name must not be empty")
		return
	}

	upd := store.ModelUpdate{Name: req.Name, Description: req.Description, Tags: req.Tags}
	if req.Visibility != nil {
		v := store.Visibility(*req.Visibility)
		upd.Visibility = &v
	}

	m, err := h.models.Update(r.Context(), auth.IdentityFrom(r.Context()), chi.URLParam(r, "modelID"), upd)
	if err != nil {
		h.writeDocumentError(w, err, "Model not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *APIHandler) DeleteModelHandler(w http.ResponseWriter, r *http.Request) {
	err := h.models.Delete(r.Context(), auth.IdentityFrom(r.Context()), chi.URLParam(r, "modelID"))
	if err != nil {
		h.writeDocumentError(w, err, "Model not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.GetOrCreate(r.Context(), auth.IdentityFrom(r.Context()))
	if err != nil {
		h.writeDocumentError(w, err, "Profile not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updateProfileRequest struct {
	DisplayName string `json:"displayName" validate:"required,max=80,no_markup"`
	Institution string `json:"institution" validate:"max=120,no_markup"`
	Role        string `json:"role" validate:"max=80,no_markup"`
	Bio         string `json:"bio" validate:"max=1000,no_markup"`
}

func (h *APIHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		writeError(w, http.StatusBadRequest, "displayName is required")
		return
	}

	p, err := h.profiles.Update(r.Context(), auth.IdentityFrom(r.Context()), core.ProfileUpdate{
		DisplayName: req.DisplayName,
		Institution: req.Institution,
		Role:        req.Role,
		Bio:         req.Bio,
	})
	if err != nil {
		h.writeDocumentError(w, err, "Profile not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *APIHandler) GetConsentHandler(w http.ResponseWriter, r *http.Request) {
	f, err := h.profiles.Consent(r.Context(), auth.IdentityFrom(r.Context()).UID)
	if err != nil {
		h.writeDocumentError(w, err, "Consent form not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type submitConsentRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Consent bool   `json:"consent"`
}

func (h *APIHandler) SubmitConsentHandler(w http.ResponseWriter, r *http.Request) {
	var req submitConsentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	f, err := h.profiles.SubmitConsent(r.Context(), auth.IdentityFrom(r.Context()), req.Email, req.Consent)
	if err != nil {
		h.writeDocumentError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

type completeConsentRequest struct {
	Status     string `json:"status" validate:"required,oneof=completed declined"`
	SurveyLink string `json:"surveyLink" validate:"omitempty,http_url"`
}

func (h *APIHandler) CompleteConsentHandler(w http.ResponseWriter, r *http.Request) {
	var req completeConsentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	f, err := h.profiles.CompleteConsent(r.Context(), auth.IdentityFrom(r.Context()), store.ConsentStatus(req.Status), req.SurveyLink)
	if err != nil {
		h.writeDocumentError(w, err, "Consent form not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}
