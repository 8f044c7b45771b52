package modelcache

import (
	"testing"

	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
	"github.com/stretchr/testify/require"
)

func TestResolveVariantWildcard(t *testing.T) {
	files := []string{"model-00002-of-00002.gguf", "model-00001-of-00002.gguf", "README.md"}
	primary, matched, err := ResolveVariant("org/Repo:*", files)
	require.NoError(t, err)
	require.Equal(t, "model-00001-of-00002.gguf", primary)
	require.Len(t, matched, 2)
}

func TestResolveVariantExactFilename(t *testing.T) {
	files := []string{"repo-Q4_K_M.gguf", "repo-Q8_0.gguf"}
	primary, matched, err := ResolveVariant("org/Repo:repo-Q8_0.gguf", files)
	require.NoError(t, err)
	require.Equal(t, "repo-Q8_0.gguf", primary)
	require.Equal(t, []string{"repo-Q8_0.gguf"}, matched)
}

func TestResolveVariantEmptySkipsMMProj(t *testing.T) {
	files := []string{"mmproj-model.gguf", "model-Q4_K_M.gguf"}
	primary, _, err := ResolveVariant("org/Repo", files)
	require.NoError(t, err)
	require.Equal(t, "model-Q4_K_M.gguf", primary)
}

func TestResolveVariantSuffixMatchCaseInsensitive(t *testing.T) {
	files := []string{"repo-q4_k_m.gguf", "repo-Q8_0.gguf"}
	primary, matched, err := ResolveVariant("org/Repo:Q4_K_M", files)
	require.NoError(t, err)
	require.Equal(t, "repo-q4_k_m.gguf", primary)
	require.Len(t, matched, 1)
}

func TestResolveVariantSuffixAmbiguous(t *testing.T) {
	files := []string{"repo-instruct-Q4.gguf", "repo-base-Q4.gguf"}
	_, _, err := ResolveVariant("org/Repo:Q4", files)
	require.Error(t, err)
	var ambiguous *lemonadeerr.AmbiguousVariantError
	require.ErrorAs(t, err, &ambiguous)
	require.Len(t, ambiguous.Matches, 2)
}

func TestResolveVariantFolderSharded(t *testing.T) {
	files := []string{
		"Q4_K_M/model-00001-of-00002.gguf",
		"Q4_K_M/model-00002-of-00002.gguf",
		"Q8_0/model-00001-of-00001.gguf",
	}
	primary, matched, err := ResolveVariant("org/Repo:Q4_K_M", files)
	require.NoError(t, err)
	require.Equal(t, "Q4_K_M/model-00001-of-00002.gguf", primary)
	require.Len(t, matched, 2)
}

func TestResolveVariantSuffixExcludesMMProj(t *testing.T) {
	files := []string{"mmproj-Q4_K_M.gguf", "model-Q4_K_M.gguf"}
	primary, matched, err := ResolveVariant("org/Repo:Q4_K_M", files)
	require.NoError(t, err)
	require.Equal(t, "model-Q4_K_M.gguf", primary)
	require.Len(t, matched, 1)
}

func TestResolveVariantNotFound(t *testing.T) {
	files := []string{"model-Q8_0.gguf"}
	_, _, err := ResolveVariant("org/Repo:Q4_K_M", files)
	require.ErrorIs(t, err, lemonadeerr.ErrModelNotFound)
}

func TestParseCheckpoint(t *testing.T) {
	repo, variant := ParseCheckpoint("org/Repo-GGUF:Q4_K_M")
	require.Equal(t, "org/Repo-GGUF", repo)
	require.Equal(t, "Q4_K_M", variant)

	repo, variant = ParseCheckpoint("org/Repo-GGUF")
	require.Equal(t, "org/Repo-GGUF", repo)
	require.Equal(t, "", variant)
}
