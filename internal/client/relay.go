// Package client talks to the meshstudio relay endpoints and holds the
// generation state for one session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/relay"
)

// Upload is one selected image.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

type GenerateResponse struct {
	ModelURL string `json:"modelUrl"`
	Seed     int64  `json:"seed"`
}

// Download is a binary body returned by the convert or proxy relay.
type Download struct {
	FileName    string
	ContentType string
	Data        []byte
}

type RelayClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewRelayClient targets the server at baseURL, e.g. http://localhost:8080.
func NewRelayClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *RelayClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With(zap.String("component", "relay_client")),
		now:        time.Now,
	}
}

// Generate posts every file under the "files" field in a single request.
func (c *RelayClient) Generate(ctx context.Context, files []Upload) (*GenerateResponse, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     "files",
			"filename": f.Name,
		}))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)

		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", body)
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	status, _, respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, relay.Upstream(status, apiErrorMessage(status, respBody))
	}

	var out GenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil || out.ModelURL == "" {
		return nil, relay.ResponseShape("API response missing modelUrl")
	}
	return &out, nil
}

// Convert asks the relay for targetFormat and returns the file to save.
func (c *RelayClient) Convert(ctx context.Context, modelURL, targetFormat string) (*Download, error) {
	payload, err := json.Marshal(map[string]string{"modelUrl": modelURL, "targetFormat": targetFormat})
	if err != nil {
		return nil, fmt.Errorf("failed to encode convert request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/convert-model", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build convert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, header, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, relay.Upstream(status, apiErrorMessage(status, body))
	}

	name := fileNameFromDisposition(header.Get("Content-Disposition"))
	if name == "" {
		name = fmt.Sprintf("bloom-model-%d.%s", c.now().UnixMilli(), strings.ToLower(targetFormat))
	}
	return &Download{FileName: name, ContentType: header.Get("Content-Type"), Data: body}, nil
}

// FetchAsset downloads meshURL through the proxy relay.
func (c *RelayClient) FetchAsset(ctx context.Context, meshURL string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ProxyURL(meshURL), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy request: %w", err)
	}

	status, header, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, relay.Upstream(status, apiErrorMessage(status, body))
	}

	name := "model.glb"
	if u, err := url.Parse(meshURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	}
	return &Download{FileName: name, ContentType: header.Get("Content-Type"), Data: body}, nil
}

// ProxyURL is the address a viewer should load meshURL from.
func (c *RelayClient) ProxyURL(meshURL string) string {
	return c.baseURL + "/api/proxy-model?url=" + url.QueryEscape(meshURL)
}

func (c *RelayClient) do(req *http.Request) (int, http.Header, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("relay request failed", zap.String("path", req.URL.Path), zap.Error(err))
		return 0, nil, nil, relay.Unreachable(err, "%v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, relay.Unreachable(err, "failed to read response: %v", err)
	}
	c.logger.Debug("relay response",
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)))
	return resp.StatusCode, resp.Header, body, nil
}

// apiErrorMessage prefers the relay's {"error": ...} body and falls back to
// "API Error: <status text>" for anything else.
func apiErrorMessage(status int, body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	text := http.StatusText(status)
	if text == "" {
		text = fmt.Sprintf("status %d", status)
	}
	return "API Error: " + text
}

func fileNameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil || params["filename"] == "" {
		return ""
	}
	name := path.Base(params["filename"])
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
