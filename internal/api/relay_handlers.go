package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/core"
	"bloomxr.dev/meshstudio/internal/relay"
)

const maxUploadMemory = 32 << 20

type generateResponse struct {
	ModelURL string `json:"modelUrl"`
	Seed     int64  `json:"seed"`
}

// GenerateHandler forwards the first uploaded image to the generation
// service and returns the mesh URL.
func (h *APIHandler) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	var files []*multipart.FileHeader
	if r.MultipartForm != nil {
		files = r.MultipartForm.File["files"]
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No files uploaded.")
		return
	}
	if len(files) > 1 {
		h.logger.Info("multiple files uploaded, using the first", zap.Int("count", len(files)))
	}

	img, err := readUpload(files[0])
	if err != nil {
		h.logger.Error("failed to read uploaded file", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	h.logger.Info("processing upload", zap.String("file", img.FileName), zap.Int("bytes", len(img.Data)))

	result, err := h.generator.Generate(r.Context(), img)
	if err != nil {
		status := relay.StatusFor(err, http.StatusInternalServerError)
		h.logger.Error("generation failed",
			zap.String("kind", relay.KindOf(err).String()),
			zap.Int("status", status),
			zap.Error(err))
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{ModelURL: result.MeshURL, Seed: result.Seed})
}

type convertRequest struct {
	ModelURL     string `json:"modelUrl"`
	TargetFormat string `json:"targetFormat"`
}

// ConvertHandler relays a conversion request and returns the converted bytes
// as a download.
func (h *APIHandler) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	asset, err := h.converter.Convert(r.Context(), req.ModelURL, req.TargetFormat)
	if err != nil {
		status := relay.StatusFor(err, http.StatusInternalServerError)
		if status >= http.StatusInternalServerError {
			h.logger.Error("conversion failed", zap.Int("status", status), zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", asset.ContentType)
	if asset.ContentDisposition != "" {
		w.Header().Set("Content-Disposition", asset.ContentDisposition)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(asset.Data)
}

// ProxyModelHandler fetches a mesh server side so the browser viewer can load
// it without cross-origin restrictions.
func (h *APIHandler) ProxyModelHandler(w http.ResponseWriter, r *http.Request) {
	modelURL := r.URL.Query().Get("url")

	asset, err := h.assets.Fetch(r.Context(), modelURL)
	if err != nil {
		status := relay.StatusFor(err, http.StatusBadGateway)
		if status == http.StatusBadGateway {
			h.logger.Warn("proxy fetch failed", zap.String("url", modelURL), zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", asset.ContentType)
	if asset.ContentLength != "" {
		w.Header().Set("Content-Length", asset.ContentLength)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(asset.Data)
}

func readUpload(fh *multipart.FileHeader) (core.ImageUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return core.ImageUpload{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return core.ImageUpload{}, err
	}
	return core.ImageUpload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
