package catalog

import (
	"path/filepath"
	"testing"

	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
	"github.com/stretchr/testify/require"
)

func TestLookupBundled(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "user_models.json"))
	require.NoError(t, err)

	d, err := c.Lookup("Qwen3-0.6B-GGUF")
	require.NoError(t, err)
	require.Equal(t, "Qwen3-0.6B-GGUF", d.Name)
	require.Equal(t, TypeLLM, d.ModelType)

	_, err = c.Lookup("does-not-exist")
	require.ErrorIs(t, err, lemonadeerr.ErrModelNotFound)
}

func TestRegisterRequiresUserPrefix(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "user_models.json"))
	require.NoError(t, err)

	err = c.Register(Descriptor{Name: "not-prefixed", Checkpoint: "org/Repo:Q4", Recipe: "llamacpp"})
	require.Error(t, err)
}

func TestRegisterConflictDetection(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "user_models.json"))
	require.NoError(t, err)

	d := Descriptor{Name: "user.Foo", Checkpoint: "org/Repo:Q4", Recipe: "llamacpp"}
	require.NoError(t, c.Register(d))

	// Identical re-registration succeeds.
	require.NoError(t, c.Register(d))

	// Differing checkpoint conflicts.
	conflicting := d
	conflicting.Checkpoint = "org/Repo:Q8"
	err = c.Register(conflicting)
	require.Error(t, err)
	var conflictErr *lemonadeerr.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Equal(t, "checkpoint", conflictErr.Field)
}

func TestRegisterPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_models.json")
	c, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, c.Register(Descriptor{Name: "user.Bar", Checkpoint: "org/Bar:Q4", Recipe: "llamacpp"}))

	reloaded, err := Load(path)
	require.NoError(t, err)
	d, err := reloaded.Lookup("user.Bar")
	require.NoError(t, err)
	require.Equal(t, "org/Bar:Q4", d.Checkpoint)
}

func TestDeleteUserModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_models.json")
	c, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, c.Register(Descriptor{Name: "user.Baz", Checkpoint: "org/Baz:Q4", Recipe: "llamacpp"}))
	require.NoError(t, c.Delete("user.Baz"))

	_, err = c.Lookup("user.Baz")
	require.ErrorIs(t, err, lemonadeerr.ErrModelNotFound)

	err = c.Delete("user.Baz")
	require.ErrorIs(t, err, lemonadeerr.ErrModelNotFound)
}

func TestFilterEnabledHidesRyzenAIAndFLMByDefault(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "user_models.json"))
	require.NoError(t, err)

	enabled, err := c.FilterEnabled(PlatformInfo{GOOS: "linux", GOARCH: "amd64"})
	require.NoError(t, err)

	_, hasRyzen := enabled["Llama-3.1-8B-RyzenAI-NPU"]
	_, hasFLM := enabled["Llama-3.1-8B-FLM"]
	require.False(t, hasRyzen)
	require.False(t, hasFLM)
	_, hasLLM := enabled["Qwen3-0.6B-GGUF"]
	require.True(t, hasLLM)
}

func TestFilterEnabledMacOSRequiresARM64(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "user_models.json"))
	require.NoError(t, err)

	_, err = c.FilterEnabled(PlatformInfo{GOOS: "darwin", GOARCH: "amd64"})
	require.Error(t, err)
	var unsupported *UnsupportedPlatformError
	require.ErrorAs(t, err, &unsupported)
}

func TestFilterEnabledMacOSRejectsNonLlamaCppRecipes(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "user_models.json"))
	require.NoError(t, err)

	enabled, err := c.FilterEnabled(PlatformInfo{GOOS: "darwin", GOARCH: "arm64", DarwinMajorVersion: 14})
	require.NoError(t, err)

	for name, d := range enabled {
		require.Equal(t, "llamacpp", d.Recipe, "unexpected non-llamacpp recipe %s survived macOS filtering", name)
	}
}
