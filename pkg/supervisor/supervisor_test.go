package supervisor

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/hwprobe"
	"github.com/lemonade-sdk/lemonade-server/pkg/lmconfig"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/scheduler"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
)

type fakeServer struct{}

func (f *fakeServer) ServeHTTP(http.ResponseWriter, *http.Request)         {}
func (f *fakeServer) Spawn(ctx context.Context) error                      { return nil }
func (f *fakeServer) WaitReady(ctx context.Context, d time.Duration) error { return nil }
func (f *fakeServer) Address() string                                      { return "http://127.0.0.1:0" }
func (f *fakeServer) Stop(ctx context.Context) error                       { return nil }
func (f *fakeServer) State() wrapped.State                                 { return wrapped.StateReady }
func (f *fakeServer) Telemetry() wrapped.TelemetrySample                   { return wrapped.TelemetrySample{} }
func (f *fakeServer) Capabilities() wrapped.Capabilities                   { return wrapped.Capabilities{Device: "cpu"} }

func testDeps(t *testing.T, port int) Deps {
	t.Helper()

	cat, err := catalog.Load(filepath.Join(t.TempDir(), "user_models.json"))
	require.NoError(t, err)

	opts, err := recipeopts.Open(filepath.Join(t.TempDir(), "recipe_options.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = opts.Close() })

	cache, err := modelcache.New(t.TempDir())
	require.NoError(t, err)

	spawn := func(d catalog.Descriptor, o recipeopts.Options, p int) (wrapped.Server, error) {
		return &fakeServer{}, nil
	}
	sched := scheduler.New(logging.Component("supervisor-test"), cat, opts, spawn, scheduler.Quotas{LLM: 1}, 40200, 40300)

	cfg := &lmconfig.Config{Host: "127.0.0.1", Port: port, ShutdownGrace: 1}

	return Deps{
		Config:    cfg,
		Catalog:   cat,
		Cache:     cache,
		Opts:      opts,
		Scheduler: sched,
		Hardware:  hwprobe.Snapshot{},
		Version:   "test",
	}
}

func TestRunServesAndShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, testDeps(t, 40210)) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:40210/live")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestSplitCSV(t *testing.T) {
	require.Nil(t, splitCSV(""))
	require.Equal(t, []string{"*"}, splitCSV("*"))
	require.Equal(t, []string{"http://a", "http://b"}, splitCSV("http://a, http://b"))
}
