package translate

import (
	"net/http"

	"github.com/tidwall/gjson"
)

// Engine-native paths these handlers forward to. Every adapter's wrapped
// HTTP surface is OpenAI-shaped under /v1 (llama.cpp's own server routes,
// which FLM, whisper.cpp, sd.cpp, and kokoro's thin HTTP shims all mirror),
// so the translation from the gateway's /api/v{0,1} surface is a path
// rewrite plus (for FLM) the model-field rewrite done at the wrapped-server
// layer itself (pkg/wrapped/flm), not here.
const (
	enginePathChatCompletions     = "/v1/chat/completions"
	enginePathCompletions         = "/v1/completions"
	enginePathEmbeddings          = "/v1/embeddings"
	enginePathReranking           = "/v1/rerank"
	enginePathResponses           = "/v1/responses"
	enginePathAudioTranscriptions = "/v1/audio/transcriptions"
	enginePathAudioSpeech         = "/v1/audio/speech"
	enginePathImagesGenerations   = "/v1/images/generations"
)

// ChatCompletions forwards POST chat/completions, handling both the
// streaming and non-streaming cases identically since the wrapped server's
// reverse proxy transparently relays SSE framing as it arrives.
func (d *Dispatcher) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.Forward(w, r, body, enginePathChatCompletions)
}

// Completions forwards POST completions.
func (d *Dispatcher) Completions(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.Forward(w, r, body, enginePathCompletions)
}

// Embeddings forwards POST embeddings.
func (d *Dispatcher) Embeddings(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.Forward(w, r, body, enginePathEmbeddings)
}

// Reranking forwards POST reranking.
func (d *Dispatcher) Reranking(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.Forward(w, r, body, enginePathReranking)
}

// Responses forwards POST responses for engines whose capability catalog
// advertises SupportsResponses; others get a 501 here rather than a
// confusing proxied 404 from an engine that never mounted the route.
func (d *Dispatcher) Responses(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if modelName := gjson.GetBytes(body, "model").String(); modelName != "" {
		if handle, err := d.sched.Acquire(r.Context(), modelName, d.modelOptions(modelName)); err == nil {
			supported := handle.Server().Capabilities().SupportsResponses
			handle.Release()
			if !supported {
				http.Error(w, "responses API is not supported by this model's engine", http.StatusNotImplemented)
				return
			}
		}
	}
	d.Forward(w, r, body, enginePathResponses)
}

// AudioTranscriptions forwards the multipart Whisper-style upload. The
// model name travels as a form field rather than a JSON body field, so this
// handler reads it separately in forwardMultipart, which then acquires and
// forwards the already-buffered body the same way Forward does.
func (d *Dispatcher) AudioTranscriptions(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.forwardMultipart(w, r, body, enginePathAudioTranscriptions)
}

// AudioSpeech forwards POST audio/speech (text-to-speech, kokoro).
func (d *Dispatcher) AudioSpeech(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.Forward(w, r, body, enginePathAudioSpeech)
}

// ImagesGenerations forwards POST images/generations (sd.cpp's synchronous
// base64-PNG-returning generate call).
func (d *Dispatcher) ImagesGenerations(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.Forward(w, r, body, enginePathImagesGenerations)
}
