package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/metrics"
	"bloomxr.dev/meshstudio/internal/relay"
)

const (
	defaultPollInterval = time.Second

	queueStatusInQueue    = "IN_QUEUE"
	queueStatusInProgress = "IN_PROGRESS"
	queueStatusCompleted  = "COMPLETED"
)

// ImageUpload is one image forwarded to the generation service.
type ImageUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// GenerationResult is the mesh produced for one image.
type GenerationResult struct {
	MeshURL     string
	ContentType string
	FileName    string
	FileSize    int64
	Seed        int64
}

type GenerationConfig struct {
	APIKey       string
	Model        string
	QueueURL     string
	StorageURL   string
	PollInterval time.Duration
}

// GenerationService drives the fal.ai queue API: upload the image to fal
// storage, submit a request for the model, wait for it to complete and read
// the mesh descriptor.
type GenerationService struct {
	cfg      GenerationConfig
	upstream upstream
}

func NewGenerationService(cfg GenerationConfig, httpClient *http.Client, logger *zap.Logger, m *metrics.Collector) *GenerationService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	cfg.QueueURL = strings.TrimRight(cfg.QueueURL, "/")
	cfg.StorageURL = strings.TrimRight(cfg.StorageURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GenerationService{
		cfg:      cfg,
		upstream: newUpstream("generation", httpClient, logger.With(zap.String("component", "generation")), m),
	}
}

type uploadInitiateResponse struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

type queueSubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type queueLog struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type queueStatusResponse struct {
	Status        string     `json:"status"`
	QueuePosition *int       `json:"queue_position"`
	Logs          []queueLog `json:"logs"`
}

type modelMesh struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
}

type generationOutput struct {
	ModelMesh *modelMesh `json:"model_mesh"`
	Seed      int64      `json:"seed"`
}

// Generate runs one image through the model. It makes no retries; polling
// the queue status is the service's completion protocol.
func (s *GenerationService) Generate(ctx context.Context, img ImageUpload) (*GenerationResult, error) {
	logger := s.upstream.logger.With(zap.String("file", img.FileName))

	imageURL, err := s.uploadImage(ctx, img)
	if err != nil {
		return nil, err
	}
	logger.Info("image uploaded to generation storage", zap.Int("bytes", len(img.Data)))

	handle, err := s.submit(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("request_id", handle.RequestID))
	logger.Info("generation request queued", zap.String("model", s.cfg.Model))

	if err := s.waitForCompletion(ctx, handle, logger); err != nil {
		return nil, err
	}

	result, err := s.fetchResult(ctx, handle)
	if err != nil {
		return nil, err
	}
	logger.Info("generation completed", zap.String("mesh_url", result.MeshURL), zap.Int64("seed", result.Seed))
	return result, nil
}

func (s *GenerationService) uploadImage(ctx context.Context, img ImageUpload) (string, error) {
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	fileName := img.FileName
	if fileName == "" {
		fileName = "upload"
	}

	var initiated uploadInitiateResponse
	payload := map[string]string{"content_type": contentType, "file_name": fileName}
	if err := s.postJSON(ctx, s.cfg.StorageURL+"/storage/upload/initiate", payload, &initiated); err != nil {
		return "", err
	}
	if initiated.UploadURL == "" || initiated.FileURL == "" {
		return "", relay.ResponseShape("Generation storage response missing upload_url or file_url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, initiated.UploadURL, bytes.NewReader(img.Data))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.upstream.send(req)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", resp.failure("")
	}
	return initiated.FileURL, nil
}

func (s *GenerationService) submit(ctx context.Context, imageURL string) (*queueSubmitResponse, error) {
	var handle queueSubmitResponse
	payload := map[string]string{"input_image_url": imageURL}
	if err := s.postJSON(ctx, s.cfg.QueueURL+"/"+s.cfg.Model, payload, &handle); err != nil {
		return nil, err
	}
	if handle.StatusURL == "" || handle.ResponseURL == "" {
		return nil, relay.ResponseShape("Generation queue response missing status_url or response_url")
	}
	return &handle, nil
}

func (s *GenerationService) waitForCompletion(ctx context.Context, handle *queueSubmitResponse, logger *zap.Logger) error {
	statusURL, err := withQuery(handle.StatusURL, "logs", "1")
	if err != nil {
		return relay.ResponseShape(fmt.Sprintf("Generation queue returned an invalid status_url: %v", err))
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	seenLogs := 0
	for {
		var status queueStatusResponse
		if err := s.getJSON(ctx, statusURL, &status); err != nil {
			return err
		}
		for _, l := range status.Logs[min(seenLogs, len(status.Logs)):] {
			logger.Info("generation queue log", zap.String("message", l.Message))
		}
		seenLogs = max(seenLogs, len(status.Logs))

		switch status.Status {
		case queueStatusCompleted:
			return nil
		case queueStatusInQueue:
			if status.QueuePosition != nil {
				logger.Debug("generation request waiting", zap.Int("queue_position", *status.QueuePosition))
			}
		case queueStatusInProgress:
		default:
			return relay.ResponseShape(fmt.Sprintf("Generation queue returned unknown status %q", status.Status))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *GenerationService) fetchResult(ctx context.Context, handle *queueSubmitResponse) (*GenerationResult, error) {
	var out generationOutput
	if err := s.getJSON(ctx, handle.ResponseURL, &out); err != nil {
		return nil, err
	}
	if out.ModelMesh == nil || out.ModelMesh.URL == "" {
		return nil, relay.ResponseShape("Failed to get model URL from generation response.")
	}

	return &GenerationResult{
		MeshURL:     out.ModelMesh.URL,
		ContentType: out.ModelMesh.ContentType,
		FileName:    out.ModelMesh.FileName,
		FileSize:    out.ModelMesh.FileSize,
		Seed:        out.Seed,
	}, nil
}

func (s *GenerationService) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return s.doJSON(req, out)
}

func (s *GenerationService) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return s.doJSON(req, out)
}

func (s *GenerationService) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Key "+s.cfg.APIKey)

	resp, err := s.upstream.send(req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return resp.failure("")
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return relay.ResponseShape(fmt.Sprintf("Generation service returned invalid JSON: %v", err))
	}
	return nil
}

func withQuery(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
