// Package whisper adapts pkg/wrapped.Process for whisper.cpp-style speech
// transcription engines: a multipart-upload proxy whose result is a single
// JSON payload, per the component design's whisper-style specialization.
package whisper

import (
	"strconv"

	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
)

// Server is the whisper.cpp wrapped-server adapter. Forwarding is fully
// transparent (no model-name rewrite, no synchronous buffering beyond what
// the reverse proxy already does for multipart bodies), so it needs no
// ServeHTTP override beyond *wrapped.Process.
type Server struct {
	*wrapped.Process
}

// New builds a whisper.cpp Server for the resolved local model file, bound
// to port.
func New(log logging.Logger, binPath string, local modelcache.LocalPaths, port int) *Server {
	cfg := wrapped.Config{
		EngineName: "whisper.cpp",
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
			Device:    "cpu",
			Multipart: true,
		},
	}
	return &Server{Process: wrapped.NewProcess(log, cfg)}
}
