package recipeopts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSaveAndGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recipe_options.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	want := Options{CtxSize: 8192, LlamaCppBackend: "vulkan", LlamaCppArgs: "--flash-attn"}
	require.NoError(t, s.Save("user.my-model", want))

	got, ok := s.Get("user.my-model")
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestSavePersistsByteEquivalentJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recipe_options.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save("user.my-model", Options{CtxSize: 4096}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk map[string]Options
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Equal(t, Options{CtxSize: 4096}, onDisk["user.my-model"])
}

func TestOpenLoadsExistingDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recipe_options.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"user.seeded":{"ctx_size":2048}}`), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, ok := s.Get("user.seeded")
	require.True(t, ok)
	require.Equal(t, 2048, got.CtxSize)
}

func TestDeleteRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recipe_options.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save("user.my-model", Options{CtxSize: 4096}))
	require.NoError(t, s.Delete("user.my-model"))

	_, ok := s.Get("user.my-model")
	require.False(t, ok)
}

func TestOpenWithMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recipe_options.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Get("nothing")
	require.False(t, ok)
}

func TestExternalEditIsPickedUpWithoutRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recipe_options.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save("user.a", Options{CtxSize: 1024}))

	// Simulate an external process editing the file directly on disk via the
	// same temp-then-rename discipline the Store itself uses.
	tmp, err := os.CreateTemp(dir, ".external-*.json")
	require.NoError(t, err)
	_, err = tmp.Write([]byte(`{"user.a":{"ctx_size":1024},"user.b":{"ctx_size":2048}}`))
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	require.NoError(t, os.Rename(tmp.Name(), path))

	require.Eventually(t, func() bool {
		got, ok := s.Get("user.b")
		return ok && got.CtxSize == 2048
	}, 2*time.Second, 20*time.Millisecond)
}
