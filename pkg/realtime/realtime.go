// Package realtime implements the streaming audio transcription gateway: a
// websocket endpoint that accumulates binary audio frames from a client and
// forwards each committed utterance to a resident whisper.cpp-family wrapped
// server's ordinary (non-streaming) transcription endpoint, translating its
// JSON response back onto the same connection. It deliberately does not open
// a second listener on its own port — the original implementation advertised
// an internal websocket port that didn't match what clients could actually
// reach, which spec.md calls out as a bug this module doesn't repeat. Every
// realtime route is mounted on the same external HTTP port and mux as the
// rest of the API.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	"github.com/gorilla/websocket"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/scheduler"
)

const enginePathAudioTranscriptions = "/v1/audio/transcriptions"

// Gateway mediates between a websocket client and a resident audio-capable
// wrapped server, one connection at a time.
type Gateway struct {
	log      logging.Logger
	cat      *catalog.Catalog
	sched    *scheduler.Scheduler
	opts     *recipeopts.Store
	upgrader websocket.Upgrader
}

// New builds a Gateway. CheckOrigin accepts every origin: the websocket
// upgrade is not checked against the configured CORS origins.
func New(log logging.Logger, cat *catalog.Catalog, sched *scheduler.Scheduler, opts *recipeopts.Store) *Gateway {
	return &Gateway{
		log:   log,
		cat:   cat,
		sched: sched,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// transcriptMessage is the JSON frame sent back to the client after each
// committed utterance.
type transcriptMessage struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// ServeHTTP upgrades the connection, then loops: binary frames are audio
// chunks appended to the current utterance buffer, and the text frame
// "commit" flushes the buffer through the wrapped transcription engine,
// replying with a transcriptMessage before starting the next utterance.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	modelName := r.URL.Query().Get("model")
	if modelName == "" {
		http.Error(w, "model query parameter is required", http.StatusBadRequest)
		return
	}
	if _, err := g.cat.Lookup(modelName); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Warnln("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var utterance bytes.Buffer
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			utterance.Write(data)
		case websocket.TextMessage:
			if string(data) != "commit" {
				continue
			}
			text, err := g.transcribe(r.Context(), modelName, utterance.Bytes())
			utterance.Reset()
			if err != nil {
				_ = conn.WriteJSON(transcriptMessage{Error: err.Error()})
				continue
			}
			_ = conn.WriteJSON(transcriptMessage{Text: text})
		}
	}
}

// transcribe acquires the named model and forwards audio as a single
// multipart transcription request, reusing the wrapped server's own
// http.Handler rather than dialing it over the network a second time.
func (g *Gateway) transcribe(ctx context.Context, modelName string, audio []byte) (string, error) {
	opts, _ := g.opts.Get(modelName)
	handle, err := g.sched.Acquire(ctx, modelName, opts)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("model", modelName); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req := httptest.NewRequest(http.MethodPost, enginePathAudioTranscriptions, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	handle.Server().ServeHTTP(rec, req)

	if rec.Code >= 400 {
		return "", fmt.Errorf("transcription engine returned status %d: %s", rec.Code, rec.Body.String())
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Text, nil
}
