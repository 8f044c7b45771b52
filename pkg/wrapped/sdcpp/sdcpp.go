// Package sdcpp adapts pkg/wrapped.Process for stable-diffusion.cpp-style
// image generation engines: a long-running synchronous generate call whose
// result is a base64-encoded PNG, per the component design's
// stable-diffusion-style specialization.
package sdcpp

import (
	"strconv"

	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
)

// Server is the stable-diffusion.cpp wrapped-server adapter.
type Server struct {
	*wrapped.Process
}

// New builds an sd.cpp Server for the resolved local model file, bound to
// port.
func New(log logging.Logger, binPath string, local modelcache.LocalPaths, port int) *Server {
	cfg := wrapped.Config{
		EngineName: "sd.cpp",
		BinPath:    binPath,
		Args: []string{
			"--model", local.PrimaryFile,
			"--port", strconv.Itoa(port),
			"--host", "127.0.0.1",
		},
		Port:      port,
		ReadyPath: "/health",
		StopMode:  wrapped.StopInterrupt,
		Capabilities: wrapped.Capabilities{
			Device:       "dgpu",
			SyncGenerate: true,
		},
	}
	return &Server{Process: wrapped.NewProcess(log, cfg)}
}
