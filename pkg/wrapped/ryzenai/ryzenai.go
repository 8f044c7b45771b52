// Package ryzenai adapts pkg/wrapped.Process for the Ryzen-AI NPU engine
// family. It behaves like the llama.cpp family over HTTP but is marked
// NPU-exclusive so the scheduler never keeps two NPU-bound engines resident
// at once (spec.md's NPU-exclusivity eviction rule).
package ryzenai

import (
	"strconv"

	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
)

const defaultContextSize = 4096

// Server is the Ryzen-AI wrapped-server adapter.
type Server struct {
	*wrapped.Process
}

// New builds a Ryzen-AI Server for the resolved local model file, bound to
// port.
func New(log logging.Logger, binPath string, local modelcache.LocalPaths, opts recipeopts.Options, port int) *Server {
	ctxSize := defaultContextSize
	if opts.CtxSize > 0 {
		ctxSize = opts.CtxSize
	}

	cfg := wrapped.Config{
		EngineName: "ryzenai",
		BinPath:    binPath,
		Args: []string{
			"--model", local.PrimaryFile,
			"--ctx-size", strconv.Itoa(ctxSize),
			"--port", strconv.Itoa(port),
			"--host", "127.0.0.1",
		},
		Port:      port,
		ReadyPath: "/v1/models",
		StopMode:  wrapped.StopInterrupt,
		Capabilities: wrapped.Capabilities{
			Device:       "npu",
			NPUExclusive: true,
		},
	}
	return &Server{Process: wrapped.NewProcess(log, cfg)}
}
