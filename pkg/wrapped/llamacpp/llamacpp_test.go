package llamacpp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
)

func TestBuildArgsDefaultsContextSize(t *testing.T) {
	local := modelcache.LocalPaths{PrimaryFile: "/cache/model.gguf"}
	args, err := buildArgs(local, recipeopts.Options{}, false, 8901)

	require.NoError(t, err)
	require.Contains(t, args, "--ctx-size")
	require.Contains(t, args, "4096")
	require.Contains(t, args, "8901")
	require.NotContains(t, args, "--n-gpu-layers")
}

func TestBuildArgsHonorsCtxSizeAndGPU(t *testing.T) {
	local := modelcache.LocalPaths{PrimaryFile: "/cache/model.gguf", MMProjFile: "/cache/mmproj.gguf"}
	args, err := buildArgs(local, recipeopts.Options{CtxSize: 16384}, true, 8901)

	require.NoError(t, err)
	require.Contains(t, args, "16384")
	require.Contains(t, args, "--mmproj")
	require.Contains(t, args, "/cache/mmproj.gguf")
	require.Contains(t, args, "--n-gpu-layers")
	require.Contains(t, args, "999")
}

func TestBuildArgsShellwordsSplitsExtraArgs(t *testing.T) {
	local := modelcache.LocalPaths{PrimaryFile: "/cache/model.gguf"}
	args, err := buildArgs(local, recipeopts.Options{LlamaCppArgs: `--flash-attn --chat-template "custom template"`}, false, 8901)

	require.NoError(t, err)
	require.Contains(t, args, "--flash-attn")
	require.Contains(t, args, "custom template")
}

func TestBuildArgsRejectsUnterminatedQuote(t *testing.T) {
	local := modelcache.LocalPaths{PrimaryFile: "/cache/model.gguf"}
	_, err := buildArgs(local, recipeopts.Options{LlamaCppArgs: `--chat-template "unterminated`}, false, 8901)

	require.Error(t, err)
}
