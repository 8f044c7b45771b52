package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/scheduler"
)

// adminHandlers implements every administrative (non-inference) endpoint:
// model listing/registration, load/unload/pull/delete, and the diagnostic
// trio /health, /stats, /system-info.
type adminHandlers struct {
	deps Deps
	cfg  Config
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	kind := "success"
	if status >= 400 {
		kind = "error"
	}
	writeJSON(w, status, map[string]string{"status": kind, "message": message})
}

// live always returns 200 without touching the scheduler, for load-balancer
// health checks that must not be gated behind model state.
func (a *adminHandlers) live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type modelView struct {
	ID            string             `json:"id"`
	Checkpoint    string             `json:"checkpoint"`
	Recipe        string             `json:"recipe"`
	ModelType     catalog.ModelType  `json:"model_type"`
	Labels        []string           `json:"labels,omitempty"`
	RecipeOptions *recipeopts.Options `json:"recipe_options,omitempty"`
}

// platform builds the PlatformInfo FilterEnabled needs from the hardware
// snapshot taken once at startup plus the running binary's GOOS/GOARCH.
// DarwinMajorVersion is left at zero (treated by FilterEnabled as unknown,
// not a rejection) since nothing in C3 currently probes the macOS release.
func (a *adminHandlers) platform() catalog.PlatformInfo {
	return catalog.PlatformInfo{
		GOOS:           runtime.GOOS,
		GOARCH:         runtime.GOARCH,
		RyzenAIRuntime: a.deps.Hardware.RyzenAIRuntimeDetected,
		RyzenAINPU:     a.deps.Hardware.HasNPU(),
	}
}

// listModels implements GET /models?show_all=, defaulting to locally-present
// models only (catalog entries whose checkpoint resolves without a
// download), matching spec.md's documented default. Both modes are first
// narrowed to the models enabled on this platform.
func (a *adminHandlers) listModels(w http.ResponseWriter, r *http.Request) {
	showAll := r.URL.Query().Get("show_all") == "true" || r.URL.Query().Get("show_all") == "1"

	all, err := a.deps.Catalog.FilterEnabled(a.platform())
	if err != nil {
		writeSchedulerHTTPError(w, err)
		return
	}
	views := make([]modelView, 0, len(all))
	for name, desc := range all {
		if !showAll {
			if _, err := a.deps.Cache.ResolveLocal(desc.Checkpoint); err != nil {
				continue
			}
		}
		views = append(views, a.toView(name, desc))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": views})
}

func (a *adminHandlers) toView(name string, desc catalog.Descriptor) modelView {
	view := modelView{ID: name, Checkpoint: desc.Checkpoint, Recipe: desc.Recipe, ModelType: desc.ModelType, Labels: desc.Labels}
	if opts, ok := a.deps.Opts.Get(name); ok {
		view.RecipeOptions = &opts
	}
	return view
}

// getModel implements GET /models/{id}.
func (a *adminHandlers) getModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	desc, err := a.deps.Catalog.Lookup(name)
	if err != nil {
		writeSchedulerHTTPError(w, err)
		return
	}

	enabled, err := a.deps.Catalog.FilterEnabled(a.platform())
	if err != nil {
		writeSchedulerHTTPError(w, err)
		return
	}
	if _, ok := enabled[name]; !ok {
		writeSchedulerHTTPError(w, lemonadeerr.ErrModelNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a.toView(name, desc))
}

type loadRequest struct {
	ModelName       string `json:"model_name"`
	CtxSize         int    `json:"ctx_size"`
	LlamaCppBackend string `json:"llamacpp_backend"`
	LlamaCppArgs    string `json:"llamacpp_args"`
	SaveOptions     bool   `json:"save_options"`
}

// loadModel implements POST /load: acquire (spawning if needed) and
// immediately release, so the model is resident but not pinned against the
// scheduler's own idle eviction afterward.
func (a *adminHandlers) loadModel(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ModelName == "" {
		http.Error(w, "model_name is required", http.StatusBadRequest)
		return
	}

	opts := recipeopts.Options{CtxSize: req.CtxSize, LlamaCppBackend: req.LlamaCppBackend, LlamaCppArgs: req.LlamaCppArgs}
	if req.SaveOptions {
		if err := a.deps.Opts.Save(req.ModelName, opts); err != nil {
			writeStatus(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	handle, err := a.deps.Scheduler.Acquire(r.Context(), req.ModelName, opts)
	if err != nil {
		writeSchedulerHTTPError(w, err)
		return
	}
	handle.Release()
	writeStatus(w, http.StatusOK, "loaded "+req.ModelName)
}

type unloadRequest struct {
	ModelName string `json:"model_name"`
}

// unloadModel implements POST /unload. A blank model_name unloads every
// resident entry.
func (a *adminHandlers) unloadModel(w http.ResponseWriter, r *http.Request) {
	var req unloadRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	var name *string
	if req.ModelName != "" {
		name = &req.ModelName
	}
	if err := a.deps.Scheduler.Unload(r.Context(), name); err != nil {
		if errors.Is(err, lemonadeerr.ErrNotLoaded) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeStatus(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeStatus(w, http.StatusOK, "unloaded")
}

type pullRequest struct {
	ModelName  string `json:"model_name"`
	Checkpoint string `json:"checkpoint"`
	Recipe     string `json:"recipe"`
	Stream     bool   `json:"stream"`
}

// pullModel implements POST /pull: download+cache the checkpoint, and for
// user.-namespaced registrations, also register the catalog descriptor.
// Streaming responses use SSE per spec.md's documented event names.
func (a *adminHandlers) pullModel(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ModelName == "" {
		http.Error(w, "model_name is required", http.StatusBadRequest)
		return
	}

	checkpoint := req.Checkpoint
	if checkpoint == "" {
		if desc, err := a.deps.Catalog.Lookup(req.ModelName); err == nil {
			checkpoint = desc.Checkpoint
		} else {
			checkpoint = req.ModelName
		}
	}

	if req.Stream {
		a.pullStream(w, r, req.ModelName, checkpoint, req.Recipe)
		return
	}

	if _, err := a.deps.Cache.Download(r.Context(), checkpoint, false); err != nil {
		writeStatus(w, pullErrorStatus(err), err.Error())
		return
	}
	if err := a.registerIfUser(req.ModelName, checkpoint, req.Recipe); err != nil {
		writeStatus(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeStatus(w, http.StatusOK, "pulled "+req.ModelName)
}

func (a *adminHandlers) pullStream(w http.ResponseWriter, r *http.Request, modelName, checkpoint, recipe string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for event := range a.deps.Cache.DownloadStream(r.Context(), checkpoint) {
		if event.Status == "error" {
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", mustJSON(event))
			flusher.Flush()
			return
		}
		fmt.Fprintf(w, "event: progress\ndata: %s\n\n", mustJSON(event))
		flusher.Flush()
	}

	if err := a.registerIfUser(modelName, checkpoint, recipe); err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", mustJSON(map[string]string{"error": err.Error()}))
		flusher.Flush()
		return
	}
	fmt.Fprintf(w, "event: complete\ndata: %s\n\n", mustJSON(map[string]string{"status": "success"}))
	flusher.Flush()
}

func mustJSON(v interface{}) string {
	data, _ := json.Marshal(v)
	return string(data)
}

// registerIfUser registers modelName in the catalog when it follows the
// user.<x> namespace and isn't already present, per spec.md's pull-time
// registration rule for custom checkpoints.
func (a *adminHandlers) registerIfUser(modelName, checkpoint, recipe string) error {
	if !catalog.IsUser(modelName) {
		return nil
	}
	if _, err := a.deps.Catalog.Lookup(modelName); err == nil {
		return nil
	}
	if recipe == "" {
		recipe = "llamacpp"
	}
	return a.deps.Catalog.Register(catalog.Descriptor{
		Name:       modelName,
		Checkpoint: checkpoint,
		Recipe:     recipe,
		ModelType:  catalog.TypeLLM,
		Source:     catalog.SourceLocalUpload,
	})
}

func pullErrorStatus(err error) int {
	var ambiguous *lemonadeerr.AmbiguousVariantError
	switch {
	case errors.Is(err, lemonadeerr.ErrModelNotFound):
		return http.StatusNotFound
	case errors.As(err, &ambiguous):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type deleteRequest struct {
	ModelName string `json:"model_name"`
}

// deleteModel implements POST /delete: remove cached files and, for
// user-registered models, the catalog entry too.
func (a *adminHandlers) deleteModel(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	desc, err := a.deps.Catalog.Lookup(req.ModelName)
	if err != nil {
		writeStatus(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := a.deps.Cache.Delete(desc.Checkpoint); err != nil && !errors.Is(err, lemonadeerr.ErrModelNotFound) {
		writeStatus(w, http.StatusInternalServerError, err.Error())
		return
	}
	if catalog.IsUser(req.ModelName) {
		if err := a.deps.Catalog.Delete(req.ModelName); err != nil {
			writeStatus(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeStatus(w, http.StatusOK, "deleted "+req.ModelName)
}

// health implements GET /health.
func (a *adminHandlers) health(w http.ResponseWriter, r *http.Request) {
	loaded := a.deps.Scheduler.ListLoaded()
	body := map[string]interface{}{
		"status":            "ok",
		"all_models_loaded": loaded,
		"max_models":        a.deps.Scheduler.MaxModels(),
	}
	// Echo back the same public port realtime transcription is reachable
	// on, never an internal-only port a status command couldn't dial.
	if a.cfg.EnableRealtime {
		body["websocket_port"] = a.cfg.Port
	}
	writeJSON(w, http.StatusOK, body)
}

// stats implements GET /stats: the most recently used loaded model's
// telemetry, or the model named by ?model= if present.
func (a *adminHandlers) stats(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("model")
	if name == "" {
		loaded := a.deps.Scheduler.ListLoaded()
		var newest *scheduler.LoadedSummary
		for i := range loaded {
			if loaded[i].Pending {
				continue
			}
			if newest == nil || loaded[i].LastUse.After(newest.LastUse) {
				newest = &loaded[i]
			}
		}
		if newest == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{})
			return
		}
		name = newest.Name
	}

	sample, ok := a.deps.Scheduler.Telemetry(name)
	if !ok {
		http.Error(w, "model not loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// systemInfo implements GET /system-info?verbose=.
func (a *adminHandlers) systemInfo(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true" || r.URL.Query().Get("verbose") == "1"

	info := map[string]interface{}{
		"os":                       runtime.GOOS,
		"arch":                     runtime.GOARCH,
		"default_llamacpp_backend": a.deps.Hardware.DefaultLlamaCppBackend,
		"has_npu":                  a.deps.Hardware.HasNPU(),
		"version":                  a.deps.VersionTag,
	}
	if verbose {
		info["cpu_name"] = a.deps.Hardware.CPUName
		info["cpu_cores"] = a.deps.Hardware.CPUCores
		info["total_memory_mb"] = a.deps.Hardware.TotalMemoryMB
		info["rocm_arch"] = a.deps.Hardware.ROCmArch
	}
	writeJSON(w, http.StatusOK, info)
}

func writeSchedulerHTTPError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lemonadeerr.ErrModelNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, lemonadeerr.ErrBusy):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
