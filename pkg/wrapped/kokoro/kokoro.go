// Package kokoro adapts pkg/wrapped.Process for the Kokoro text-to-speech
// engine: an OpenAI /audio/speech-shaped HTTP surface, transparently
// forwarded like the llama.cpp family.
package kokoro

import (
	"strconv"

	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
)

// Server is the Kokoro wrapped-server adapter.
type Server struct {
	*wrapped.Process
}

// New builds a Kokoro Server for the resolved local model file, bound to
// port.
func New(log logging.Logger, binPath string, local modelcache.LocalPaths, port int) *Server {
	cfg := wrapped.Config{
		EngineName: "kokoro",
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
			Device: "cpu",
		},
	}
	return &Server{Process: wrapped.NewProcess(log, cfg)}
}
