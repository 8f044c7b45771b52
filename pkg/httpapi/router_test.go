package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/hwprobe"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/scheduler"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
)

type fakeServer struct{}

func (f *fakeServer) ServeHTTP(http.ResponseWriter, *http.Request)          {}
func (f *fakeServer) Spawn(ctx context.Context) error                      { return nil }
func (f *fakeServer) WaitReady(ctx context.Context, d time.Duration) error  { return nil }
func (f *fakeServer) Address() string                                      { return "http://127.0.0.1:0" }
func (f *fakeServer) Stop(ctx context.Context) error                       { return nil }
func (f *fakeServer) State() wrapped.State                                 { return wrapped.StateReady }
func (f *fakeServer) Telemetry() wrapped.TelemetrySample                   { return wrapped.TelemetrySample{} }
func (f *fakeServer) Capabilities() wrapped.Capabilities                   { return wrapped.Capabilities{Device: "cpu"} }

func newTestDeps(t *testing.T) Deps {
	t.Helper()

	cat, err := catalog.Load(filepath.Join(t.TempDir(), "user_models.json"))
	require.NoError(t, err)
	require.NoError(t, cat.Register(catalog.Descriptor{
		Name: "user.test-model", Checkpoint: "org/Test:Q4", Recipe: "llamacpp", ModelType: catalog.TypeLLM,
	}))

	opts, err := recipeopts.Open(filepath.Join(t.TempDir(), "recipe_options.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = opts.Close() })

	spawn := func(d catalog.Descriptor, o recipeopts.Options, port int) (wrapped.Server, error) {
		return &fakeServer{}, nil
	}
	sched := scheduler.New(logging.Component("httpapi-test"), cat, opts, spawn, scheduler.Quotas{LLM: 2, Embedding: 1, Reranking: 1}, 40000, 40100)

	cache, err := modelcache.New(t.TempDir())
	require.NoError(t, err)

	return Deps{
		Catalog:    cat,
		Scheduler:  sched,
		Cache:      cache,
		Opts:       opts,
		Hardware:   hwprobe.Snapshot{},
		VersionTag: "test",
	}
}

func TestLiveAlwaysOK(t *testing.T) {
	handler := New(Config{}, newTestDeps(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthGatesHealthButNotLiveOrMetrics(t *testing.T) {
	handler := New(Config{APIKey: "secret"}, newTestDeps(t))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsMaxModels(t *testing.T) {
	handler := New(Config{}, newTestDeps(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"llm":2`)
}

func TestModelsRegisteredUnderBothV0AndV1(t *testing.T) {
	handler := New(Config{}, newTestDeps(t))

	for _, prefix := range []string{"/api/v0", "/api/v1"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, prefix+"/models?show_all=true", nil))
		require.Equal(t, http.StatusOK, rec.Code, prefix)
		require.Contains(t, rec.Body.String(), "user.test-model", prefix)
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	handler := New(Config{}, newTestDeps(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nonexistent", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthOmitsWebsocketPortWhenRealtimeDisabled(t *testing.T) {
	handler := New(Config{}, newTestDeps(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NotContains(t, rec.Body.String(), "websocket_port")
}

func TestHealthEchoesPublicPortWhenRealtimeEnabled(t *testing.T) {
	handler := New(Config{Port: 8123, EnableRealtime: true}, newTestDeps(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Contains(t, rec.Body.String(), `"websocket_port":8123`)
}

func TestListModelsHidesRyzenAIRecipeWithoutRuntime(t *testing.T) {
	deps := newTestDeps(t)
	require.NoError(t, deps.Catalog.Register(catalog.Descriptor{
		Name: "user.npu-model", Checkpoint: "org/NPU:Q4", Recipe: "ryzenai-npu", ModelType: catalog.TypeLLM,
	}))

	handler := New(Config{}, deps)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/models?show_all=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "user.npu-model")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/models/user.npu-model", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	deps.Hardware.RyzenAIRuntimeDetected = true
	handler = New(Config{}, deps)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/models?show_all=true", nil))
	require.Contains(t, rec.Body.String(), "user.npu-model")
}

func TestRealtimeRouteOnlyMountedWhenEnabled(t *testing.T) {
	disabled := New(Config{}, newTestDeps(t))
	rec := httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audio/transcriptions/realtime", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	enabled := New(Config{EnableRealtime: true}, newTestDeps(t))
	rec = httptest.NewRecorder()
	// Not a real websocket handshake, but mounted routes reject a plain GET
	// with 400 rather than 404, proving the route exists.
	enabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audio/transcriptions/realtime", nil))
	require.NotEqual(t, http.StatusNotFound, rec.Code)
}
