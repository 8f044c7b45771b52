// Package translate implements the two external dialects (OpenAI and
// Ollama) that front the single internal dispatcher which acquires a
// wrapped server from the scheduler and forwards a request to it.
package translate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/hwprobe"
	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/scheduler"
	"github.com/tidwall/gjson"
)

// maximumInferenceRequestSize bounds buffered request bodies, matching the
// teacher's own DoS-resistance constant for its inference handler.
const maximumInferenceRequestSize = 10 * 1024 * 1024

// Dispatcher is the single internal entry point both external dialects map
// onto: it resolves a model name to a scheduler handle and forwards the
// (possibly rewritten) request to the bound wrapped server.
type Dispatcher struct {
	log   logging.Logger
	cat   *catalog.Catalog
	sched *scheduler.Scheduler
	opts  *recipeopts.Store
	hw    hwprobe.Snapshot
	cache *modelcache.Cache
}

// New constructs a Dispatcher.
func New(log logging.Logger, cat *catalog.Catalog, sched *scheduler.Scheduler, opts *recipeopts.Store, hw hwprobe.Snapshot, cache *modelcache.Cache) *Dispatcher {
	return &Dispatcher{log: log, cat: cat, sched: sched, opts: opts, hw: hw, cache: cache}
}

// enabledModels narrows the catalog to what FilterEnabled permits on this
// platform, matching the same visibility rule pkg/httpapi's REST listing
// applies, so the Ollama dialect's /api/tags doesn't advertise a
// ryzenai-*/flm model the host can't actually spawn.
func (d *Dispatcher) enabledModels() map[string]catalog.Descriptor {
	enabled, err := d.cat.FilterEnabled(catalog.PlatformInfo{
		GOOS:           runtime.GOOS,
		GOARCH:         runtime.GOARCH,
		RyzenAIRuntime: d.hw.RyzenAIRuntimeDetected,
		RyzenAINPU:     d.hw.HasNPU(),
	})
	if err != nil {
		return nil
	}
	return enabled
}

// readBody drains and bounds r.Body, mirroring the teacher's
// http.MaxBytesReader guard ahead of any JSON decode.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maximumInferenceRequestSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request too large: %w", err)
		}
		return nil, err
	}
	return body, nil
}

// modelOptions returns the persisted recipe options for name, or the zero
// value if none have been saved.
func (d *Dispatcher) modelOptions(name string) recipeopts.Options {
	opts, _ := d.opts.Get(name)
	return opts
}

// Forward resolves the "model" field of body (a JSON object), acquires the
// corresponding wrapped server, rewrites the request's path to enginePath,
// and forwards it. It is the common tail for every OpenAI-dialect endpoint
// that proxies into an engine.
func (d *Dispatcher) Forward(w http.ResponseWriter, r *http.Request, body []byte, enginePath string) {
	modelName := gjson.GetBytes(body, "model").String()
	if modelName == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}

	if _, err := d.cat.Lookup(modelName); err != nil {
		if errors.Is(err, lemonadeerr.ErrModelNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	handle, err := d.sched.Acquire(r.Context(), modelName, d.modelOptions(modelName))
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	defer handle.Release()

	upstream := r.Clone(r.Context())
	upstream.Body = io.NopCloser(bytes.NewReader(body))
	upstream.ContentLength = int64(len(body))
	upstream.URL.Path = enginePath
	upstream.URL.RawPath = ""

	handle.Server().ServeHTTP(w, upstream)
}

// writeSchedulerError maps a scheduler/catalog error to an HTTP status, the
// one place translate handlers touch status codes for domain errors.
func writeSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lemonadeerr.ErrModelNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, lemonadeerr.ErrBusy):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, lemonadeerr.ErrModelTooBig):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, fmt.Errorf("unable to acquire model: %w", err).Error(), http.StatusInternalServerError)
	}
}

// writeJSON is the shared helper for the small administrative JSON
// responses this package's handlers return directly (status envelopes,
// Ollama dialect objects) rather than proxying a wrapped server's body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
