package core

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/metrics"
	"bloomxr.dev/meshstudio/internal/relay"
)

// AssetFetcher downloads mesh files on behalf of browsers that cannot load
// them cross-origin.
type AssetFetcher struct {
	upstream upstream
}

func NewAssetFetcher(httpClient *http.Client, logger *zap.Logger, m *metrics.Collector) *AssetFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetFetcher{
		upstream: newUpstream("asset", httpClient, logger.With(zap.String("component", "proxy")), m),
	}
}

// Fetch reads the whole asset. Every upstream failure is reported with
// status 502.
func (f *AssetFetcher) Fetch(ctx context.Context, rawURL string) (*Asset, error) {
	if rawURL == "" {
		return nil, relay.BadRequest("Missing model URL parameter")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, relay.BadRequest("Invalid model URL parameter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build asset request: %w", err)
	}

	resp, err := f.upstream.send(req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, relay.Upstream(http.StatusBadGateway, "Failed to fetch model: "+statusLine(resp.Status))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	// A declared length that disagrees with the bytes read is dropped.
	contentLength := resp.Header.Get("Content-Length")
	if contentLength != strconv.Itoa(len(resp.Body)) {
		contentLength = ""
	}
	return &Asset{
		Data:          resp.Body,
		ContentType:   contentType,
		ContentLength: contentLength,
	}, nil
}
