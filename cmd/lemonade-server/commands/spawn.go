package commands

import (
	"fmt"
	"os"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/hwprobe"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/scheduler"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped/flm"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped/kokoro"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped/llamacpp"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped/ryzenai"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped/sdcpp"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped/whisper"
)

// binPathEnv maps each recipe family to the environment variable that
// overrides its engine binary's location, following the LLAMA_SERVER_PATH
// convention the original implementation uses for llama.cpp. An unset
// variable falls back to the bare command name, left to $PATH resolution.
var binPathEnv = map[string]struct {
	env      string
	fallback string
}{
	"llamacpp":    {"LLAMA_SERVER_PATH", "llama-server"},
	"flm":         {"FLM_PATH", "flm"},
	"kokoro":      {"KOKORO_PATH", "kokoro-server"},
	"ryzenai-npu": {"RYZENAI_NPU_PATH", "ryzenai-server"},
	"sd-cpp":      {"SD_CPP_PATH", "sd-server"},
	"whispercpp":  {"WHISPERCPP_PATH", "whisper-server"},
}

func resolveBinPath(recipe string) string {
	cfg, ok := binPathEnv[recipe]
	if !ok {
		return ""
	}
	if path := os.Getenv(cfg.env); path != "" {
		return path
	}
	return cfg.fallback
}

// gpuSupported reports whether hardware probing found a GPU llama.cpp can
// offload onto, used to pick llama.cpp's -ngl argument default.
func gpuSupported(hw hwprobe.Snapshot) bool {
	return len(hw.AMDIGPU) > 0 || len(hw.AMDDGPU) > 0 || len(hw.NVIDIADGPU) > 0
}

// buildSpawnFunc binds catalog recipes to concrete pkg/wrapped/* engine
// adapters. It lives in cmd/lemonade-server rather than pkg/scheduler or
// pkg/supervisor because those packages must not import every engine
// adapter just to bound residency or drive the HTTP/shutdown lifecycle.
func buildSpawnFunc(log logging.Logger, cache *modelcache.Cache, hw hwprobe.Snapshot) scheduler.SpawnFunc {
	hasGPU := gpuSupported(hw)

	return func(descriptor catalog.Descriptor, opts recipeopts.Options, port int) (wrapped.Server, error) {
		binPath := resolveBinPath(descriptor.Recipe)

		switch descriptor.Recipe {
		case "llamacpp":
			local, err := cache.ResolveLocal(descriptor.Checkpoint)
			if err != nil {
				return nil, fmt.Errorf("resolving %s locally: %w", descriptor.Checkpoint, err)
			}
			return llamacpp.New(log, binPath, descriptor, local, opts, hasGPU, port)
		case "flm":
			return flm.New(log, binPath, descriptor.Checkpoint, opts, port), nil
		case "kokoro":
			local, err := cache.ResolveLocal(descriptor.Checkpoint)
			if err != nil {
				return nil, fmt.Errorf("resolving %s locally: %w", descriptor.Checkpoint, err)
			}
			return kokoro.New(log, binPath, local, port), nil
		case "ryzenai-npu":
			local, err := cache.ResolveLocal(descriptor.Checkpoint)
			if err != nil {
				return nil, fmt.Errorf("resolving %s locally: %w", descriptor.Checkpoint, err)
			}
			return ryzenai.New(log, binPath, local, opts, port), nil
		case "sd-cpp":
			local, err := cache.ResolveLocal(descriptor.Checkpoint)
			if err != nil {
				return nil, fmt.Errorf("resolving %s locally: %w", descriptor.Checkpoint, err)
			}
			return sdcpp.New(log, binPath, local, port), nil
		case "whispercpp":
			local, err := cache.ResolveLocal(descriptor.Checkpoint)
			if err != nil {
				return nil, fmt.Errorf("resolving %s locally: %w", descriptor.Checkpoint, err)
			}
			return whisper.New(log, binPath, local, port), nil
		default:
			return nil, fmt.Errorf("no wrapped-server adapter for recipe %q", descriptor.Recipe)
		}
	}
}
