package modelcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDownloadStreamFetchesAndPersistsFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/org/Repo-GGUF", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"siblings":[{"rfilename":"repo-Q4_K_M.gguf"}]}`))
	})
	mux.HandleFunc("/org/Repo-GGUF/resolve/main/repo-Q4_K_M.gguf", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake gguf weights"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	origAPI, origResolve := hfAPIBase, hfResolveBase
	hfAPIBase = server.URL + "/api/models/"
	hfResolveBase = server.URL + "/"
	defer func() { hfAPIBase, hfResolveBase = origAPI, origResolve }()

	root := t.TempDir()
	c, err := New(root)
	require.NoError(t, err)

	var events []PullEvent
	for e := range c.DownloadStream(context.Background(), "org/Repo-GGUF:Q4_K_M") {
		events = append(events, e)
	}
	require.NotEmpty(t, events)
	require.Equal(t, "success", events[len(events)-1].Status)

	local, err := c.ResolveLocal("org/Repo-GGUF:Q4_K_M")
	require.NoError(t, err)
	require.Equal(t, filepath.Base(local.PrimaryFile), "repo-Q4_K_M.gguf")
}

func TestDownloadSkipsNetworkWhenLocalCompleteAndNoUpgrade(t *testing.T) {
	mux := http.NewServeMux()
	called := false
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	origAPI, origResolve := hfAPIBase, hfResolveBase
	hfAPIBase = server.URL + "/api/models/"
	hfResolveBase = server.URL + "/"
	defer func() { hfAPIBase, hfResolveBase = origAPI, origResolve }()

	root := t.TempDir()
	snapshot := filepath.Join(root, RepoDirName("org/Repo-GGUF"), "snapshots", "abc123")
	writeFile(t, filepath.Join(snapshot, "repo-Q4_K_M.gguf"), "weights")

	c, err := New(root)
	require.NoError(t, err)

	_, err = c.Download(context.Background(), "org/Repo-GGUF:Q4_K_M", false)
	require.NoError(t, err)
	require.False(t, called, "Download with allowUpgrade=false should not touch the network when a local copy exists")
}
