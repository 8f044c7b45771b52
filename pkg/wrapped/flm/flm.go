// Package flm adapts pkg/wrapped.Process for FLM, the Ryzen-AI-friendly
// engine whose CLI is invoked as "flm serve <checkpoint> --ctx-len N --port
// P" and whose HTTP surface requires request bodies to carry its own
// checkpoint identifier rather than whatever display name the client sent.
package flm

import (
	"net/http"
	"strconv"

	"github.com/tidwall/sjson"

	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
)

const defaultContextSize = 4096

// RuntimeRequirement holds a pinned FLM CLI version (required_version).
// Nothing in this package loads one or compares it with the installed FLM
// runtime: New launches whatever binPath points at, whatever its version.
type RuntimeRequirement struct {
	RequiredVersion string `json:"required_version"`
}

// Server is the FLM wrapped-server adapter.
type Server struct {
	*wrapped.Process
	flmModelName string
}

// New builds an FLM Server for checkpoint, bound to port.
func New(log logging.Logger, binPath, checkpoint string, opts recipeopts.Options, port int) *Server {
	ctxSize := defaultContextSize
	if opts.CtxSize > 0 {
		ctxSize = opts.CtxSize
	}

	cfg := wrapped.Config{
		EngineName: "flm",
		BinPath:    binPath,
		Args: []string{
			"serve", checkpoint,
			"--ctx-len", strconv.Itoa(ctxSize),
			"--port", strconv.Itoa(port),
		},
		Port:      port,
		ReadyPath: "/api/tags",
		StopMode:  wrapped.StopInterrupt,
		Capabilities: wrapped.Capabilities{
			Device:            "npu",
			NPUExclusive:      true,
			RewritesModelName: true,
		},
	}

	return &Server{
		Process:      wrapped.NewProcess(log, cfg),
		flmModelName: checkpoint,
	}
}

// ServeHTTP rewrites the JSON body's "model" field to the FLM-recognized
// checkpoint identifier before proxying, since FLM (unlike llama.cpp) rejects
// requests whose model field doesn't match what it was launched with.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
		rewriteModelField(r, s.flmModelName)
	}
	s.Process.ServeHTTP(w, r)
}

func rewriteModelField(r *http.Request, modelName string) {
	body, err := wrapped.ReadAndReplaceBody(r)
	if err != nil {
		return
	}
	rewritten, err := sjson.SetBytes(body, "model", modelName)
	if err != nil {
		return
	}
	wrapped.SetBody(r, rewritten)
}
