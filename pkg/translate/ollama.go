package translate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const ollamaNameSuffix = ":latest"

// stripLatest removes a trailing ":latest" tag on input, matching Ollama's
// convention of treating an untagged name as implicitly ":latest".
func stripLatest(name string) string {
	return strings.TrimSuffix(name, ollamaNameSuffix)
}

// withLatest appends ":latest" back on output if the name doesn't already
// carry a tag, so Ollama clients see the suffix they expect.
func withLatest(name string) string {
	if strings.Contains(name, ":") {
		return name
	}
	return name + ollamaNameSuffix
}

// ollamaChatMessage mirrors the subset of Ollama's chat message shape this
// translation needs; fields it doesn't recognize pass through untouched via
// gjson/sjson field surgery rather than a full struct round-trip.
type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tags implements GET /api/tags: every catalog descriptor enabled on this
// platform, whether or not its files are in the local cache.
func (d *Dispatcher) Tags(w http.ResponseWriter, r *http.Request) {
	all := d.enabledModels()
	models := make([]map[string]interface{}, 0, len(all))
	for name, desc := range all {
		models = append(models, map[string]interface{}{
			"name":  withLatest(name),
			"model": withLatest(name),
			"details": map[string]interface{}{
				"family": desc.Recipe,
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

// Show implements POST /api/show.
func (d *Dispatcher) Show(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := stripLatest(gjson.GetBytes(body, "name").String())
	if name == "" {
		name = stripLatest(gjson.GetBytes(body, "model").String())
	}

	desc, err := d.cat.Lookup(name)
	if err != nil {
		http.Error(w, "model not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"modelfile":  "",
		"parameters": "",
		"template":   "",
		"details": map[string]interface{}{
			"family":     desc.Recipe,
			"checkpoint": desc.Checkpoint,
		},
	})
}

// Ps implements GET /api/ps from the scheduler's resident-entry snapshot.
func (d *Dispatcher) Ps(w http.ResponseWriter, r *http.Request) {
	loaded := d.sched.ListLoaded()
	entries := make([]map[string]interface{}, 0, len(loaded))
	for _, e := range loaded {
		if e.Pending {
			continue
		}
		entries = append(entries, map[string]interface{}{
			"name":       withLatest(e.Name),
			"model":      withLatest(e.Name),
			"expires_at": e.LastUse.Add(5 * time.Minute),
			"size_vram":  0,
			"details": map[string]interface{}{
				"family": e.Type,
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": entries})
}

// Version implements GET /api/version.
func (d *Dispatcher) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": "lemonade"})
}

// Root implements GET /, matching Ollama's own plaintext landing response so
// clients that probe it for liveness before calling /api/tags keep working.
func (d *Dispatcher) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Lemonade is running")
}

// Pull implements POST /api/pull: downloads the named model's checkpoint,
// streaming one NDJSON object per line (the Ollama dialect's progress
// contract) unless the caller explicitly opts out with stream:false. It
// shares modelcache.Cache.DownloadStream's PullEvent feed with the
// OpenAI-dialect SSE /pull surface rather than re-implementing progress
// reporting a second time.
func (d *Dispatcher) Pull(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := gjson.GetBytes(body, "name").String()
	if name == "" {
		name = gjson.GetBytes(body, "model").String()
	}
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	name = stripLatest(name)

	stream := true
	if s := gjson.GetBytes(body, "stream"); s.Exists() {
		stream = s.Bool()
	}

	checkpoint := name
	if desc, err := d.cat.Lookup(name); err == nil {
		checkpoint = desc.Checkpoint
	}

	if !stream {
		if _, err := d.cache.Download(r.Context(), checkpoint, false); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	writeNDJSONLine(w, map[string]string{"status": "pulling manifest"})
	flusher.Flush()

	for event := range d.cache.DownloadStream(r.Context(), checkpoint) {
		writeNDJSONLine(w, event)
		flusher.Flush()
		if event.Status == "error" {
			return
		}
	}

	writeNDJSONLine(w, map[string]string{"status": "success"})
	flusher.Flush()
}

func writeNDJSONLine(w io.Writer, v interface{}) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write(append(encoded, '\n'))
}

// NotImplemented implements /api/create, /api/copy, /api/push, which this
// gateway documents as unsupported rather than silently no-oping.
func (d *Dispatcher) NotImplemented(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not implemented", http.StatusNotImplemented)
}

// Chat implements POST /api/chat, mapping onto OpenAI chat/completions and
// re-framing the response as Ollama NDJSON (or a single JSON object when the
// caller didn't ask for streaming).
func (d *Dispatcher) Chat(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.dispatchOllamaInference(w, r, body, enginePathChatCompletions, true)
}

// Generate implements POST /api/generate, mapping onto OpenAI completions.
// A keep_alive: 0 request with an empty prompt is an unload, not a generate
// call, per spec.md's documented Ollama unload idiom.
func (d *Dispatcher) Generate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	prompt := gjson.GetBytes(body, "prompt").String()
	keepAlive := gjson.GetBytes(body, "keep_alive")
	if prompt == "" && keepAlive.Exists() && keepAlive.Num == 0 {
		name := stripLatest(gjson.GetBytes(body, "model").String())
		if err := d.sched.Unload(r.Context(), &name); err != nil && !errors.Is(err, lemonadeerr.ErrNotLoaded) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"model": withLatest(name), "done": true, "done_reason": "unload",
		})
		return
	}

	d.dispatchOllamaInference(w, r, body, enginePathCompletions, false)
}

// dispatchOllamaInference resolves the model, acquires the wrapped server,
// issues the translated OpenAI-dialect request directly (rather than via the
// transparent reverse proxy used by the OpenAI-dialect handlers) since the
// response must be re-framed as NDJSON, not passed through as-is.
func (d *Dispatcher) dispatchOllamaInference(w http.ResponseWriter, r *http.Request, body []byte, enginePath string, isChat bool) {
	modelName := stripLatest(gjson.GetBytes(body, "model").String())
	if modelName == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}
	if _, err := d.cat.Lookup(modelName); err != nil {
		if errors.Is(err, lemonadeerr.ErrModelNotFound) {
			http.Error(w, "model not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stream := gjson.GetBytes(body, "stream").Bool() || !gjson.GetBytes(body, "stream").Exists()

	translated, err := sjson.SetBytes(body, "model", modelName)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	translated, _ = sjson.SetBytes(translated, "stream", stream)

	handle, err := d.sched.Acquire(r.Context(), modelName, d.modelOptions(modelName))
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	defer handle.Release()

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		handle.Server().Address()+enginePath, bytes.NewReader(translated))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	upstreamReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(upstreamReq)
	if err != nil {
		http.Error(w, fmt.Sprintf("upstream request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)

	if !stream {
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeOllamaChunk(w, modelName, extractText(payload, isChat), true, "", isChat)
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			writeOllamaChunk(w, modelName, "", true, "stop", isChat)
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		text := extractDeltaText([]byte(data), isChat)
		if text == "" {
			continue
		}
		writeOllamaChunk(w, modelName, text, false, "", isChat)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// extractText pulls the full response text out of a non-streaming OpenAI
// chat/completion or completion payload.
func extractText(payload []byte, isChat bool) string {
	if isChat {
		return gjson.GetBytes(payload, "choices.0.message.content").String()
	}
	return gjson.GetBytes(payload, "choices.0.text").String()
}

// extractDeltaText pulls the incremental text out of one OpenAI streaming
// chunk (chat uses choices[0].delta.content, completions uses choices[0].text).
func extractDeltaText(chunk []byte, isChat bool) string {
	if isChat {
		return gjson.GetBytes(chunk, "choices.0.delta.content").String()
	}
	return gjson.GetBytes(chunk, "choices.0.text").String()
}

// writeOllamaChunk writes one NDJSON line in the Ollama /api/chat or
// /api/generate response shape.
func writeOllamaChunk(w io.Writer, model, text string, done bool, doneReason string, isChat bool) {
	chunk := map[string]interface{}{
		"model":      withLatest(model),
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		"done":       done,
	}
	if doneReason != "" {
		chunk["done_reason"] = doneReason
	}
	if isChat {
		chunk["message"] = ollamaChatMessage{Role: "assistant", Content: text}
	} else {
		chunk["response"] = text
	}
	encoded, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	_, _ = w.Write(append(encoded, '\n'))
}
