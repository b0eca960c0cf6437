package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/core"
	"bloomxr.dev/meshstudio/internal/relay"
)

type fakeGenerator struct {
	got    []core.ImageUpload
	result *core.GenerationResult
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, img core.ImageUpload) (*core.GenerationResult, error) {
	f.got = append(f.got, img)
	return f.result, f.err
}

func newRelayRouter(t *testing.T, gen Generator, conversionURL string) http.Handler {
	t.Helper()
	h := NewAPIHandler(Dependencies{
		Generator: gen,
		Converter: core.NewConversionService(conversionURL, nil, zap.NewNop(), nil),
		Assets:    core.NewAssetFetcher(nil, zap.NewNop(), nil),
	}, zap.NewNop())
	return NewRouter(h, RouterOptions{})
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		fw.Write([]byte(content))
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func TestGenerateHandler_NoFiles(t *testing.T) {
	gen := &fakeGenerator{}
	router := newRelayRouter(t, gen, "http://unused")

	body, contentType := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"No files uploaded."}`, rr.Body.String())
	assert.Empty(t, gen.got)

	req = httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "No files uploaded.", decodeError(t, rr))
}

func TestGenerateHandler_ForwardsFirstFile(t *testing.T) {
	gen := &fakeGenerator{result: &core.GenerationResult{MeshURL: "https://cdn/mesh.glb", Seed: 7}}
	router := newRelayRouter(t, gen, "http://unused")

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, name := range []string{"first.png", "second.png"} {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		fw.Write([]byte(name + "-bytes"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"modelUrl":"https://cdn/mesh.glb","seed":7}`, rr.Body.String())
	require.Len(t, gen.got, 1)
	assert.Equal(t, "first.png", gen.got[0].FileName)
	assert.Equal(t, []byte("first.png-bytes"), gen.got[0].Data)
}

func TestGenerateHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"upstream payload", relay.Upstream(http.StatusUnprocessableEntity, "image too small"), http.StatusUnprocessableEntity, "image too small"},
		{"unreachable", relay.Unreachable(errors.New("dial tcp"), "generation unreachable: dial tcp"), http.StatusInternalServerError, "generation unreachable: dial tcp"},
		{"missing mesh url", relay.ResponseShape("Failed to get model URL from generation response."), http.StatusInternalServerError, "Failed to get model URL from generation response."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRelayRouter(t, &fakeGenerator{err: tt.err}, "http://unused")

			body, contentType := multipartBody(t, map[string]string{"tooth.png": "x"})
			req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
			req.Header.Set("Content-Type", contentType)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, rr))
		})
	}
}

type conversionStub struct {
	server *httptest.Server
	calls  atomic.Int32
	body   atomic.Value
}

func newConversionStub(t *testing.T, handler http.HandlerFunc) *conversionStub {
	t.Helper()
	stub := &conversionStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.calls.Add(1)
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		stub.body.Store(payload)
		handler(w, r)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func postConvert(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/convert-model", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestConvertHandler_STLScenario(t *testing.T) {
	stub := newConversionStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0x01, 0x02, 0x03})
	})
	router := newRelayRouter(t, nil, stub.server.URL)

	rr := postConvert(router, `{"modelUrl":"https://x/y.glb","targetFormat":"STL"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, rr.Body.Bytes())
	assert.Equal(t, "3", rr.Header().Get("Content-Length"))
	assert.Equal(t, "application/octet-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, map[string]string{"glb_url": "https://x/y.glb", "output_format": "stl"}, stub.body.Load())
}

func TestConvertHandler_RecomputesContentLength(t *testing.T) {
	stub := newConversionStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="tooth.obj"`)
		w.(http.Flusher).Flush()
		w.Write([]byte("v 0 0 0\n"))
	})
	router := newRelayRouter(t, nil, stub.server.URL)

	rr := postConvert(router, `{"modelUrl":"https://x/y.glb","targetFormat":"obj"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "8", rr.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename="tooth.obj"`, rr.Header().Get("Content-Disposition"))
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))
}

func TestConvertHandler_RejectsWithoutUpstreamCall(t *testing.T) {
	stub := newConversionStub(t, func(w http.ResponseWriter, r *http.Request) {})
	router := newRelayRouter(t, nil, stub.server.URL)

	tests := []struct {
		body    string
		wantMsg string
	}{
		{`{"modelUrl":"https://x/y.glb","targetFormat":"ply"}`, "Invalid targetFormat. Must be stl or obj."},
		{`{"modelUrl":"https://x/y.glb","targetFormat":"GLB"}`, "Invalid targetFormat. Must be stl or obj."},
		{`{"targetFormat":"stl"}`, "Missing modelUrl or targetFormat"},
		{`{"modelUrl":"https://x/y.glb"}`, "Missing modelUrl or targetFormat"},
	}
	for _, tt := range tests {
		rr := postConvert(router, tt.body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, tt.body)
		assert.Equal(t, tt.wantMsg, decodeError(t, rr), tt.body)
	}

	assert.Zero(t, stub.calls.Load())
}

func TestConvertHandler_UpstreamError(t *testing.T) {
	stub := newConversionStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"unsupported mesh"}`))
	})
	router := newRelayRouter(t, nil, stub.server.URL)

	rr := postConvert(router, `{"modelUrl":"https://x/y.glb","targetFormat":"stl"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "Conversion failed: unsupported mesh", decodeError(t, rr))
}

func TestConvertHandler_Unreachable(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	router := newRelayRouter(t, nil, closed.URL)

	rr := postConvert(router, `{"modelUrl":"https://x/y.glb","targetFormat":"stl"}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotEmpty(t, decodeError(t, rr))
}

func TestProxyModelHandler(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mesh.glb" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "model/gltf-binary")
		w.Write([]byte("glTF-binary"))
	}))
	defer upstream.Close()
	router := newRelayRouter(t, nil, "http://unused")

	get := func(target string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		return rr
	}

	rr := get("/api/proxy-model?url=" + upstream.URL + "/mesh.glb")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "glTF-binary", rr.Body.String())
	assert.Equal(t, "model/gltf-binary", rr.Header().Get("Content-Type"))
	assert.Equal(t, "11", rr.Header().Get("Content-Length"))

	rr = get("/api/proxy-model")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing model URL parameter", decodeError(t, rr))

	rr = get("/api/proxy-model?url=" + upstream.URL + "/missing.glb")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "Failed to fetch model: 404 Not Found", decodeError(t, rr))
}

func TestProxyModelHandler_UnreachableWritesNoPartialBody(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	router := newRelayRouter(t, nil, "http://unused")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/proxy-model?url="+closedURL+"/mesh.glb", nil))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	msg := decodeError(t, rr)
	assert.NotEmpty(t, msg)
	assert.NotContains(t, rr.Body.String(), "glTF")
}

func TestHealthHandler(t *testing.T) {
	router := newRelayRouter(t, nil, "http://unused")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
