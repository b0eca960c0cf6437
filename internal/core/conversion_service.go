package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/metrics"
	"bloomxr.dev/meshstudio/internal/relay"
)

const (
	FormatSTL = "stl"
	FormatOBJ = "obj"

	defaultContentType = "application/octet-stream"
)

// NormalizeFormat lowercases a requested target format and reports whether
// the conversion service supports it.
func NormalizeFormat(format string) (string, bool) {
	f := strings.ToLower(strings.TrimSpace(format))
	switch f {
	case FormatSTL, FormatOBJ:
		return f, true
	default:
		return f, false
	}
}

// Asset is a fully buffered binary body returned by an upstream service.
type Asset struct {
	Data               []byte
	ContentType        string
	ContentDisposition string
	// ContentLength is the upstream's declared length, empty when absent.
	ContentLength string
}

type ConversionService struct {
	endpoint string
	upstream upstream
}

func NewConversionService(endpoint string, httpClient *http.Client, logger *zap.Logger, m *metrics.Collector) *ConversionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversionService{
		endpoint: endpoint,
		upstream: newUpstream("conversion", httpClient, logger.With(zap.String("component", "conversion")), m),
	}
}

type conversionRequest struct {
	GLBURL       string `json:"glb_url"`
	OutputFormat string `json:"output_format"`
}

// Convert asks the conversion service to turn the GLB at modelURL into
// targetFormat. The format is validated before any call is made.
func (s *ConversionService) Convert(ctx context.Context, modelURL, targetFormat string) (*Asset, error) {
	if modelURL == "" || targetFormat == "" {
		return nil, relay.BadRequest("Missing modelUrl or targetFormat")
	}
	format, ok := NormalizeFormat(targetFormat)
	if !ok {
		return nil, relay.BadRequest("Invalid targetFormat. Must be stl or obj.")
	}

	body, err := json.Marshal(conversionRequest{GLBURL: modelURL, OutputFormat: format})
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build conversion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.upstream.send(req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		s.upstream.logger.Warn("conversion failed",
			zap.Int("status", resp.Status),
			zap.String("format", format))
		return nil, resp.failure("Conversion failed: ")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	s.upstream.logger.Info("model converted",
		zap.String("format", format),
		zap.Int("bytes", len(resp.Body)))

	return &Asset{
		Data:               resp.Body,
		ContentType:        contentType,
		ContentDisposition: resp.Header.Get("Content-Disposition"),
	}, nil
}
