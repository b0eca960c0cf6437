package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloomxr.dev/meshstudio/internal/relay"
)

type relayStub struct {
	server *httptest.Server
	calls  atomic.Int32
	files  atomic.Int32
}

func newRelayStub(t *testing.T, status int, contentType, body string) *relayStub {
	t.Helper()
	stub := &relayStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.calls.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			stub.files.Store(int32(len(r.MultipartForm.File["files"])))
		}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *relayStub) controller(opts ...Option) *Controller {
	return NewController(NewRelayClient(s.server.URL, s.server.Client(), nil), opts...)
}

var twoImages = []Upload{
	{Name: "front.png", ContentType: "image/png", Data: []byte("front")},
	{Name: "side.png", ContentType: "image/png", Data: []byte("side")},
}

func TestController_EmptyInputMakesNoCall(t *testing.T) {
	stub := newRelayStub(t, http.StatusOK, "application/json", `{"modelUrl":"https://cdn/m.glb"}`)
	var seen []State
	c := stub.controller(WithObserver(func(s State) { seen = append(seen, s) }))

	for _, files := range [][]Upload{nil, {}} {
		st, err := c.GenerateModel(context.Background(), files)
		require.NoError(t, err)
		assert.Equal(t, PhaseFailed, st.Phase)
		assert.Equal(t, relay.KindNoInput, st.Kind)
		assert.Equal(t, "No files provided for generation.", st.Message)
		assert.False(t, c.IsLoading())
	}

	assert.Zero(t, stub.calls.Load())
	for _, s := range seen {
		assert.NotEqual(t, PhaseInFlight, s.Phase, "empty input must never enter in-flight")
	}
}

func TestController_Success(t *testing.T) {
	stub := newRelayStub(t, http.StatusOK, "application/json", `{"modelUrl":"https://cdn/mesh.glb","seed":99}`)
	var phases []Phase
	c := stub.controller(WithObserver(func(s State) { phases = append(phases, s.Phase) }))

	st, err := c.GenerateModel(context.Background(), twoImages)
	require.NoError(t, err)

	assert.Equal(t, PhaseSucceeded, st.Phase)
	require.NotNil(t, st.Result)
	assert.Equal(t, "https://cdn/mesh.glb", st.Result.MeshURL)
	assert.Equal(t, int64(99), st.Result.Seed)
	assert.False(t, c.IsLoading())
	assert.Equal(t, st, c.Snapshot())
	assert.Equal(t, []Phase{PhaseInFlight, PhaseSucceeded}, phases)

	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Equal(t, int32(2), stub.files.Load(), "every file goes in the one request")
	assert.Equal(t, stub.server.URL+"/api/proxy-model?url=https%3A%2F%2Fcdn%2Fmesh.glb", c.ProxyURL())
}

func TestController_Failures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantMsg     string
		wantKind    relay.Kind
	}{
		{"json error field", http.StatusBadRequest, "application/json", `{"error":"No files uploaded."}`, "No files uploaded.", relay.KindUpstreamError},
		{"json without error", http.StatusInternalServerError, "application/json", `{"detail":"x"}`, "API Error: Internal Server Error", relay.KindUpstreamError},
		{"html body", http.StatusBadGateway, "text/html", `<html>bad gateway</html>`, "API Error: Bad Gateway", relay.KindUpstreamError},
		{"empty body", http.StatusServiceUnavailable, "", ``, "API Error: Service Unavailable", relay.KindUpstreamError},
		{"json array", http.StatusTeapot, "application/json", `[1,2]`, "API Error: I'm a teapot", relay.KindUpstreamError},
		{"missing modelUrl", http.StatusOK, "application/json", `{"seed":1}`, "API response missing modelUrl", relay.KindResponseShape},
		{"success not json", http.StatusOK, "text/plain", `ok`, "API response missing modelUrl", relay.KindResponseShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newRelayStub(t, tt.status, tt.contentType, tt.body)
			c := stub.controller()

			st, err := c.GenerateModel(context.Background(), twoImages[:1])
			require.NoError(t, err)

			assert.Equal(t, PhaseFailed, st.Phase)
			assert.Equal(t, tt.wantMsg, st.Message)
			assert.NotEmpty(t, st.Message)
			assert.Equal(t, tt.wantKind, st.Kind)
			assert.Nil(t, st.Result)
			assert.False(t, c.IsLoading())
			assert.Empty(t, c.ProxyURL())
		})
	}
}

func TestController_Unreachable(t *testing.T) {
	stub := newRelayStub(t, http.StatusOK, "", "")
	c := stub.controller()
	stub.server.Close()

	st, err := c.GenerateModel(context.Background(), twoImages)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, relay.KindUpstreamUnreachable, st.Kind)
	assert.NotEmpty(t, st.Message)
	assert.False(t, c.IsLoading())
}

func TestController_NewGenerationReplacesPreviousState(t *testing.T) {
	ok := newRelayStub(t, http.StatusOK, "application/json", `{"modelUrl":"https://cdn/a.glb"}`)
	c := ok.controller()

	st, err := c.GenerateModel(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, PhaseFailed, st.Phase)

	st, err = c.GenerateModel(context.Background(), twoImages)
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, st.Phase)
	assert.Empty(t, st.Message)

	st, err = c.GenerateModel(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Nil(t, st.Result)
}

type blockingRelay struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingRelay) Generate(ctx context.Context, files []Upload) (*GenerateResponse, error) {
	b.calls.Add(1)
	close(b.started)
	<-b.release
	return &GenerateResponse{ModelURL: "https://cdn/slow.glb"}, nil
}

func (b *blockingRelay) ProxyURL(meshURL string) string { return "proxy:" + meshURL }

func TestController_RejectsWhileInFlight(t *testing.T) {
	r := &blockingRelay{started: make(chan struct{}), release: make(chan struct{})}
	c := NewController(r)

	var wg sync.WaitGroup
	var first State
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, _ = c.GenerateModel(context.Background(), twoImages)
	}()

	<-r.started
	assert.True(t, c.IsLoading())

	st, err := c.GenerateModel(context.Background(), twoImages)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, PhaseInFlight, st.Phase)

	c.ClearError()
	assert.True(t, c.IsLoading(), "ClearError must not touch an in-flight generation")

	close(r.release)
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, PhaseSucceeded, first.Phase)
	assert.Equal(t, "proxy:https://cdn/slow.glb", c.ProxyURL())
}

type panickingRelay struct{}

func (panickingRelay) Generate(context.Context, []Upload) (*GenerateResponse, error) {
	panic("boom")
}

func (panickingRelay) ProxyURL(string) string { return "" }

func TestController_PanicEndsFailed(t *testing.T) {
	c := NewController(panickingRelay{})

	st, err := c.GenerateModel(context.Background(), twoImages)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, "An unknown error occurred during generation.", st.Message)
	assert.False(t, c.IsLoading())
}

func TestController_PanickingObserverDoesNotWedge(t *testing.T) {
	stub := newRelayStub(t, http.StatusOK, "application/json", `{"modelUrl":"https://cdn/a.glb","seed":3}`)
	var seen []Phase
	c := stub.controller(
		WithObserver(func(s State) { panic("observer boom") }),
		WithObserver(func(s State) { seen = append(seen, s.Phase) }),
	)

	var st State
	var err error
	require.NotPanics(t, func() {
		st, err = c.GenerateModel(context.Background(), twoImages)
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, st.Phase)
	assert.False(t, c.IsLoading())
	assert.Equal(t, []Phase{PhaseInFlight, PhaseSucceeded}, seen)

	st, err = c.GenerateModel(context.Background(), twoImages)
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, st.Phase)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestController_SnapshotIsACopy(t *testing.T) {
	stub := newRelayStub(t, http.StatusOK, "application/json", `{"modelUrl":"https://cdn/a.glb"}`)
	c := stub.controller()

	st, err := c.GenerateModel(context.Background(), twoImages)
	require.NoError(t, err)
	st.Result.MeshURL = "https://evil/x.glb"

	snap := c.Snapshot()
	require.NotNil(t, snap.Result)
	assert.Equal(t, "https://cdn/a.glb", snap.Result.MeshURL)

	snap.Result.MeshURL = "https://evil/y.glb"
	assert.Equal(t, "https://cdn/a.glb", c.Snapshot().Result.MeshURL)
}

func TestController_ClearError(t *testing.T) {
	stub := newRelayStub(t, http.StatusOK, "application/json", `{"modelUrl":"https://cdn/a.glb"}`)
	c := stub.controller()

	c.ClearError()
	assert.Equal(t, PhaseIdle, c.Snapshot().Phase)

	c.GenerateModel(context.Background(), nil)
	require.Equal(t, PhaseFailed, c.Snapshot().Phase)
	c.ClearError()
	assert.Equal(t, State{Phase: PhaseIdle}, c.Snapshot())

	c.GenerateModel(context.Background(), twoImages)
	c.ClearError()
	assert.Equal(t, PhaseSucceeded, c.Snapshot().Phase, "ClearError leaves a success alone")
}

func TestController_UploadedFiles(t *testing.T) {
	c := NewController(nil)
	assert.Empty(t, c.UploadedFiles())

	files := []Upload{{Name: "a.png"}}
	c.SetUploadedFiles(files)
	files[0].Name = "mutated"
	assert.Equal(t, "a.png", c.UploadedFiles()[0].Name)

	c.SetUploadedFiles(twoImages)
	assert.Len(t, c.UploadedFiles(), 2)
	assert.Equal(t, PhaseIdle, c.Snapshot().Phase, "selection does not change generation state")
}
