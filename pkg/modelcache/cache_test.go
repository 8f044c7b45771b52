package modelcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestRepoDirName(t *testing.T) {
	require.Equal(t, "models--org--Repo-GGUF", RepoDirName("org/Repo-GGUF"))
}

func TestResolveLocalFindsSnapshot(t *testing.T) {
	root := t.TempDir()
	snapshot := filepath.Join(root, RepoDirName("org/Repo-GGUF"), "snapshots", "abc123")
	writeFile(t, filepath.Join(snapshot, "repo-Q4_K_M.gguf"), "weights")

	c, err := New(root)
	require.NoError(t, err)

	local, err := c.ResolveLocal("org/Repo-GGUF:Q4_K_M")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(snapshot, "repo-Q4_K_M.gguf"), local.PrimaryFile)
}

func TestResolveLocalMissingRepoIsNotFound(t *testing.T) {
	root := t.TempDir()
	c, err := New(root)
	require.NoError(t, err)

	_, err = c.ResolveLocal("org/Nonexistent:Q4")
	require.ErrorIs(t, err, lemonadeerr.ErrModelNotFound)
}

func TestResolveLocalPartialDownloadTreatedAsAbsent(t *testing.T) {
	root := t.TempDir()
	snapshot := filepath.Join(root, RepoDirName("org/Repo-GGUF"), "snapshots", "abc123")
	// A zero-byte file simulates an interrupted download.
	writeFile(t, filepath.Join(snapshot, "repo-Q4_K_M.gguf"), "")

	c, err := New(root)
	require.NoError(t, err)

	_, err = c.ResolveLocal("org/Repo-GGUF:Q4_K_M")
	require.ErrorIs(t, err, lemonadeerr.ErrModelNotFound)
}

func TestDeleteVariantKeepsOtherVariants(t *testing.T) {
	root := t.TempDir()
	snapshot := filepath.Join(root, RepoDirName("org/Repo-GGUF"), "snapshots", "abc123")
	writeFile(t, filepath.Join(snapshot, "repo-Q4_K_M.gguf"), "weights")
	writeFile(t, filepath.Join(snapshot, "repo-Q8_0.gguf"), "weights")

	c, err := New(root)
	require.NoError(t, err)

	require.NoError(t, c.Delete("org/Repo-GGUF:Q4_K_M"))

	_, err = os.Stat(filepath.Join(snapshot, "repo-Q4_K_M.gguf"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(snapshot, "repo-Q8_0.gguf"))
	require.NoError(t, err)
}

func TestDeleteVariantRemovesRepoWhenNoGGUFRemain(t *testing.T) {
	root := t.TempDir()
	snapshot := filepath.Join(root, RepoDirName("org/Repo-GGUF"), "snapshots", "abc123")
	writeFile(t, filepath.Join(snapshot, "repo-Q4_K_M.gguf"), "weights")

	c, err := New(root)
	require.NoError(t, err)

	require.NoError(t, c.Delete("org/Repo-GGUF:Q4_K_M"))

	_, err = os.Stat(c.repoDir("org/Repo-GGUF"))
	require.True(t, os.IsNotExist(err))
}
