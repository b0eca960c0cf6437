package core

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloomxr.dev/meshstudio/internal/relay"
)

func TestAssetFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "model/gltf-binary")
		w.Write([]byte("glTF"))
	}))
	defer server.Close()

	asset, err := NewAssetFetcher(server.Client(), nil, nil).Fetch(context.Background(), server.URL+"/mesh.glb")
	require.NoError(t, err)
	assert.Equal(t, []byte("glTF"), asset.Data)
	assert.Equal(t, "model/gltf-binary", asset.ContentType)
	assert.Equal(t, "4", asset.ContentLength)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestAssetFetcher_DropsMismatchedContentLength(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Length": []string{"999"}},
			Body:       io.NopCloser(strings.NewReader("glTF")),
			Request:    r,
		}, nil
	})}

	asset, err := NewAssetFetcher(client, nil, nil).Fetch(context.Background(), "https://cdn.example/mesh.glb")
	require.NoError(t, err)
	assert.Equal(t, []byte("glTF"), asset.Data)
	assert.Empty(t, asset.ContentLength)
	assert.Equal(t, "application/octet-stream", asset.ContentType)
}

func TestAssetFetcher_Errors(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	fetcher := NewAssetFetcher(nil, nil, nil)

	tests := []struct {
		name       string
		url        string
		wantKind   relay.Kind
		wantStatus int
		wantMsg    string
	}{
		{"missing", "", relay.KindBadRequest, http.StatusBadRequest, "Missing model URL parameter"},
		{"not absolute", "/mesh.glb", relay.KindBadRequest, http.StatusBadRequest, "Invalid model URL parameter"},
		{"upstream 404", notFound.URL + "/mesh.glb", relay.KindUpstreamError, http.StatusBadGateway, "Failed to fetch model: 404 Not Found"},
		{"unreachable", closedURL + "/mesh.glb", relay.KindUpstreamUnreachable, http.StatusBadGateway, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fetcher.Fetch(context.Background(), tt.url)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, relay.KindOf(err))
			assert.Equal(t, tt.wantStatus, relay.StatusFor(err, http.StatusBadGateway))
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			} else {
				assert.NotEmpty(t, err.Error())
			}
		})
	}
}
