// Package httpapi assembles the external HTTP surface: the dual /api/v0 and
// /api/v1 OpenAI-compatible routes, the Ollama-compatible routes mounted at
// the root, and the administrative endpoints (/health, /live, /models,
// /load, /unload, /pull, /delete, /stats, /system-info, /metrics), wrapping
// all of it in the same CORS/auth/rate-limit/normalization middleware chain
// the teacher's main.go builds by hand around its routing.NormalizedServeMux.
package httpapi

import (
	"net/http"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/hwprobe"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/middleware"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/realtime"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/routing"
	"github.com/lemonade-sdk/lemonade-server/pkg/scheduler"
	"github.com/lemonade-sdk/lemonade-server/pkg/translate"
)

var log = logging.Component("httpapi")

// apiPrefixes are the two OpenAI-surface mount points every inference and
// administrative route is registered under, matching both the legacy
// Ollama-derived /api/v0 clients and the newer /api/v1 clients expect.
var apiPrefixes = []string{"/api/v0", "/api/v1"}

// Config carries the request-handling knobs New reads from, kept separate
// from lmconfig.Config so this package doesn't import the CLI's flag layer.
type Config struct {
	APIKey       string
	CorsOrigins  []string
	RateLimitRPS float64
	// Port is the public HTTP port, echoed back as health's websocket_port
	// when realtime transcription is enabled: there is no separate internal
	// websocket port to advertise, unlike the implementation this module
	// replaces.
	Port int
	// EnableRealtime mounts the streaming transcription websocket route.
	EnableRealtime bool
}

// Deps bundles the components the router dispatches into.
type Deps struct {
	Catalog    *catalog.Catalog
	Scheduler  *scheduler.Scheduler
	Cache      *modelcache.Cache
	Opts       *recipeopts.Store
	Hardware   hwprobe.Snapshot
	VersionTag string
}

// New builds the complete external http.Handler.
func New(cfg Config, deps Deps) http.Handler {
	dispatcher := translate.New(log, deps.Catalog, deps.Scheduler, deps.Opts, deps.Hardware, deps.Cache)
	admin := &adminHandlers{deps: deps, cfg: cfg}

	mux := routing.NewNormalizedServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			dispatcher.Root(w, r)
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	})

	// Liveness is intentionally unauthenticated: it's the one route external
	// orchestrators probe before the API key is necessarily known.
	mux.HandleFunc("GET /live", admin.live)

	var gateway *realtime.Gateway
	if cfg.EnableRealtime {
		gateway = realtime.New(logging.Component("realtime"), deps.Catalog, deps.Scheduler, deps.Opts)
	}

	for _, prefix := range apiPrefixes {
		registerOpenAIRoutes(mux, prefix, dispatcher, admin, gateway)
	}
	registerOllamaRoutes(mux, dispatcher)

	mux.Handle("GET /metrics", newMetricsHandler(deps.Scheduler))

	// Wrapped from the inside out: CORS closest to the mux, then auth, with
	// the rate limiter outermost so throttled requests never reach the
	// (comparatively more expensive) API-key check.
	var handler http.Handler = mux
	handler = middleware.CorsMiddleware(cfg.CorsOrigins, handler)
	handler = authMiddleware(cfg.APIKey, handler)
	handler = rateLimitMiddleware(cfg.RateLimitRPS, handler)
	return handler
}

// registerOpenAIRoutes mounts the OpenAI-dialect inference routes and the
// shared administrative routes under one versioned prefix.
func registerOpenAIRoutes(mux *routing.NormalizedServeMux, prefix string, d *translate.Dispatcher, admin *adminHandlers, gateway *realtime.Gateway) {
	mux.HandleFunc("POST "+prefix+"/chat/completions", d.ChatCompletions)
	mux.HandleFunc("POST "+prefix+"/completions", d.Completions)
	mux.HandleFunc("POST "+prefix+"/embeddings", d.Embeddings)
	mux.HandleFunc("POST "+prefix+"/rerank", d.Reranking)
	mux.HandleFunc("POST "+prefix+"/reranking", d.Reranking)
	mux.HandleFunc("POST "+prefix+"/responses", d.Responses)
	mux.HandleFunc("POST "+prefix+"/audio/transcriptions", d.AudioTranscriptions)
	mux.HandleFunc("POST "+prefix+"/audio/speech", d.AudioSpeech)
	mux.HandleFunc("POST "+prefix+"/images/generations", d.ImagesGenerations)
	if gateway != nil {
		mux.HandleFunc("GET "+prefix+"/audio/transcriptions/realtime", gateway.ServeHTTP)
	}

	mux.HandleFunc("GET "+prefix+"/models", admin.listModels)
	mux.HandleFunc("GET "+prefix+"/models/{name...}", admin.getModel)
	mux.HandleFunc("POST "+prefix+"/load", admin.loadModel)
	mux.HandleFunc("POST "+prefix+"/unload", admin.unloadModel)
	mux.HandleFunc("POST "+prefix+"/pull", admin.pullModel)
	mux.HandleFunc("POST "+prefix+"/delete", admin.deleteModel)
	mux.HandleFunc("GET "+prefix+"/health", admin.health)
	mux.HandleFunc("GET "+prefix+"/stats", admin.stats)
	mux.HandleFunc("GET "+prefix+"/system-info", admin.systemInfo)
}

// registerOllamaRoutes mounts the Ollama-dialect routes at their native,
// unprefixed paths, matching how every Ollama client is hardcoded to call.
func registerOllamaRoutes(mux *routing.NormalizedServeMux, d *translate.Dispatcher) {
	mux.HandleFunc("GET /api/tags", d.Tags)
	mux.HandleFunc("POST /api/show", d.Show)
	mux.HandleFunc("GET /api/ps", d.Ps)
	mux.HandleFunc("GET /api/version", d.Version)
	mux.HandleFunc("POST /api/chat", d.Chat)
	mux.HandleFunc("POST /api/generate", d.Generate)
	mux.HandleFunc("POST /api/pull", d.Pull)
	mux.HandleFunc("POST /api/create", d.NotImplemented)
	mux.HandleFunc("POST /api/copy", d.NotImplemented)
	mux.HandleFunc("POST /api/push", d.NotImplemented)
}
