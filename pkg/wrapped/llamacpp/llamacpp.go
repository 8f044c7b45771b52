// Package llamacpp adapts pkg/wrapped.Process for the llama.cpp-family
// engine: an HTTP OpenAI-compatible server binary taking a GGUF model path,
// context size, and GPU offload flags.
package llamacpp

import (
	"fmt"
	"strconv"

	shellwords "github.com/mattn/go-shellwords"

	parser "github.com/gpustack/gguf-parser-go"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/sandbox"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
)

const defaultContextSize = 4096

// RequiredMemory is the estimated RAM/VRAM footprint of running a model at a
// given context size, as computed by EstimateMemory. The scheduler's
// eviction accounting counts resident models per type and does not use it.
type RequiredMemory struct {
	RAM  uint64
	VRAM uint64
}

// Server is the llama.cpp wrapped-server adapter.
type Server struct {
	*wrapped.Process
}

// New builds a llama.cpp Server for descriptor, bound to port, using the
// locally-resolved model files and any persisted/just-supplied recipe
// options. binPath is the resolved llama-server executable for the chosen
// backend (cpu/vulkan/cuda/metal/rocm).
func New(log logging.Logger, binPath string, descriptor catalog.Descriptor, local modelcache.LocalPaths, opts recipeopts.Options, gpuSupported bool, port int) (*Server, error) {
	args, err := buildArgs(local, opts, gpuSupported, port)
	if err != nil {
		return nil, fmt.Errorf("unable to build llama.cpp args: %w", err)
	}

	cfg := wrapped.Config{
		EngineName:           "llama.cpp",
		BinPath:              binPath,
		Args:                 args,
		Port:                 port,
		ReadyPath:            "/v1/models",
		StopMode:             wrapped.StopInterrupt,
		SandboxConfiguration: sandbox.ConfigurationLlamaCpp,
		Capabilities: wrapped.Capabilities{
			Device:            "cpu",
			SupportsResponses: false,
			RewritesModelName: false,
		},
	}
	if gpuSupported {
		cfg.Capabilities.Device = "dgpu"
	}

	return &Server{Process: wrapped.NewProcess(log, cfg)}, nil
}

// buildArgs assembles llama-server's argv: model path, mmproj (if present),
// context size, port, and any free-form extra arguments the client supplied,
// shellwords-split so quoting behaves the way a shell would interpret it.
func buildArgs(local modelcache.LocalPaths, opts recipeopts.Options, gpuSupported bool, port int) ([]string, error) {
	ctxSize := defaultContextSize
	if opts.CtxSize > 0 {
		ctxSize = opts.CtxSize
	}

	args := []string{
		"--model", local.PrimaryFile,
		"--ctx-size", strconv.Itoa(ctxSize),
		"--port", strconv.Itoa(port),
		"--host", "127.0.0.1",
	}
	if local.MMProjFile != "" {
		args = append(args, "--mmproj", local.MMProjFile)
	}
	if gpuSupported {
		args = append(args, "--n-gpu-layers", "999")
	}

	if opts.LlamaCppArgs != "" {
		extra, err := shellwords.Parse(opts.LlamaCppArgs)
		if err != nil {
			return nil, fmt.Errorf("unable to parse llamacpp_args %q: %w", opts.LlamaCppArgs, err)
		}
		args = append(args, extra...)
	}

	return args, nil
}

// EstimateMemory parses the resolved GGUF file and estimates RAM/VRAM use at
// ctxSize, matching the teacher's GetRequiredMemoryForModel: sum the weight,
// KV-cache, and compute buffers llama.cpp would allocate for device 0 (host)
// and, when a second device is reported, device 1 (the first accelerator).
func EstimateMemory(local modelcache.LocalPaths, ctxSize int, gpuSupported bool) (RequiredMemory, error) {
	gguf, err := parser.ParseGGUFFile(local.PrimaryFile)
	if err != nil {
		return RequiredMemory{}, fmt.Errorf("parsing gguf(%s): %w", local.PrimaryFile, err)
	}

	var ngl uint64
	if gpuSupported {
		ngl = 999
	}

	estimate := gguf.EstimateLLaMACppRun(
		parser.WithLLaMACppContextSize(int32(ctxSize)),
		parser.WithLLaMACppLogicalBatchSize(2048),
		parser.WithLLaMACppOffloadLayers(ngl),
	)

	ram := uint64(estimate.Devices[0].Weight.Sum() + estimate.Devices[0].KVCache.Sum() + estimate.Devices[0].Computation.Sum())
	var vram uint64
	if len(estimate.Devices) > 1 {
		vram = uint64(estimate.Devices[1].Weight.Sum() + estimate.Devices[1].KVCache.Sum() + estimate.Devices[1].Computation.Sum())
	}

	return RequiredMemory{RAM: ram, VRAM: vram}, nil
}
