package translate

import (
	"bytes"
	"context"
	"mime/multipart"
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

// proxyServer is a wrapped.Server stub that forwards every request to an
// httptest.Server, letting tests assert on the path/body the dispatcher
// rewrote, or have the translate layer dial out over a real loopback
// address (needed for the Ollama dialect's direct http.Client.Do path).
type proxyServer struct {
	upstream *httptest.Server
	lastPath string
	lastBody []byte
}

func (p *proxyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.lastPath = r.URL.Path
	p.lastBody, _ = readAll(r)
	p.upstream.Config.Handler.ServeHTTP(w, r)
}
func (p *proxyServer) Spawn(ctx context.Context) error                      { return nil }
func (p *proxyServer) WaitReady(ctx context.Context, d time.Duration) error  { return nil }
func (p *proxyServer) Address() string                                      { return p.upstream.URL }
func (p *proxyServer) Stop(ctx context.Context) error                       { return nil }
func (p *proxyServer) State() wrapped.State                                 { return wrapped.StateReady }
func (p *proxyServer) Telemetry() wrapped.TelemetrySample                   { return wrapped.TelemetrySample{} }
func (p *proxyServer) Capabilities() wrapped.Capabilities                   { return wrapped.Capabilities{Device: "cpu"} }

func readAll(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(r.Body)
	return buf.Bytes(), err
}

// newTestDispatcher wires a Dispatcher against the bundled catalog plus one
// user descriptor ("user.test-model") and a scheduler whose SpawnFunc always
// hands back the given proxyServer, so Acquire never touches a real engine.
func newTestDispatcher(t *testing.T, proxy *proxyServer) *Dispatcher {
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
		return proxy, nil
	}
	sched := scheduler.New(logging.Component("translate-test"), cat, opts, spawn, scheduler.Quotas{LLM: 2}, 41000, 41100)

	cache, err := modelcache.New(t.TempDir())
	require.NoError(t, err)

	return New(logging.Component("translate-test"), cat, sched, opts, hwprobe.Snapshot{}, cache)
}

func TestForwardRewritesPathAndForwardsBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()
	proxy := &proxyServer{upstream: upstream}

	d := newTestDispatcher(t, proxy)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions",
		bytes.NewBufferString(`{"model":"user.test-model","messages":[]}`))
	rec := httptest.NewRecorder()
	d.ChatCompletions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, enginePathChatCompletions, proxy.lastPath)
	require.Contains(t, string(proxy.lastBody), "user.test-model")
}

func TestForwardRejectsMissingModelField(t *testing.T) {
	d := newTestDispatcher(t, &proxyServer{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	d.ChatCompletions(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForwardUnknownModelReturns404(t *testing.T) {
	d := newTestDispatcher(t, &proxyServer{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions",
		bytes.NewBufferString(`{"model":"user.does-not-exist"}`))
	rec := httptest.NewRecorder()
	d.ChatCompletions(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompletionsAndEmbeddingsRewritePaths(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	proxy := &proxyServer{upstream: upstream}
	d := newTestDispatcher(t, proxy)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/completions",
		bytes.NewBufferString(`{"model":"user.test-model","prompt":"hi"}`))
	d.Completions(httptest.NewRecorder(), req)
	require.Equal(t, enginePathCompletions, proxy.lastPath)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/embeddings",
		bytes.NewBufferString(`{"model":"user.test-model","input":"hi"}`))
	d.Embeddings(httptest.NewRecorder(), req)
	require.Equal(t, enginePathEmbeddings, proxy.lastPath)
}

func TestForwardMultipartExtractsModelField(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"hello"}`))
	}))
	defer upstream.Close()
	proxy := &proxyServer{upstream: upstream}
	d := newTestDispatcher(t, proxy)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("model", "user.test-model"))
	part, err := writer.CreateFormFile("file", "utterance.wav")
	require.NoError(t, err)
	_, _ = part.Write([]byte("fake-audio"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/audio/transcriptions", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	d.AudioTranscriptions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, enginePathAudioTranscriptions, proxy.lastPath)
}

func TestForwardMultipartRequiresModelField(t *testing.T) {
	d := newTestDispatcher(t, &proxyServer{})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "utterance.wav")
	require.NoError(t, err)
	_, _ = part.Write([]byte("fake-audio"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/audio/transcriptions", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	d.AudioTranscriptions(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMultipartModelFieldIgnoresNonMultipartBody(t *testing.T) {
	name, err := multipartModelField("application/json", []byte(`{"model":"x"}`))
	require.NoError(t, err)
	require.Empty(t, name)
}
