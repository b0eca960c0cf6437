package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/auth"
	"bloomxr.dev/meshstudio/internal/core"
)

type Generator interface {
	Generate(ctx context.Context, img core.ImageUpload) (*core.GenerationResult, error)
}

type Converter interface {
	Convert(ctx context.Context, modelURL, targetFormat string) (*core.Asset, error)
}

type AssetSource interface {
	Fetch(ctx context.Context, rawURL string) (*core.Asset, error)
}

// Dependencies are the services the handlers delegate to.
type Dependencies struct {
	Generator Generator
	Converter Converter
	Assets    AssetSource
	Models    *core.ModelService
	Profiles  *core.ProfileService
	Verifier  auth.Verifier
}

type APIHandler struct {
	generator Generator
	converter Converter
	assets    AssetSource
	models    *core.ModelService
	profiles  *core.ProfileService
	verifier  auth.Verifier
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewAPIHandler(deps Dependencies, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		generator: deps.Generator,
		converter: deps.Converter,
		assets:    deps.Assets,
		models:    deps.Models,
		profiles:  deps.Profiles,
		verifier:  deps.Verifier,
		validate:  newValidator(),
		logger:    logger.With(zap.String("component", "api")),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AuthMiddleware resolves the bearer token to an identity and stores it in
// the request context.
func (h *APIHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header must be a bearer token")
			return
		}

		id, err := h.verifier.Verify(r.Context(), tokenString)
		if err != nil {
			h.logger.Debug("token rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}
