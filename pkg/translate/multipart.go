package translate

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
)

// forwardMultipart extracts the "model" form field from an already-buffered
// multipart body (Whisper-style transcription upload) without consuming it,
// then delegates to the same acquire/forward path as the JSON handlers.
func (d *Dispatcher) forwardMultipart(w http.ResponseWriter, r *http.Request, body []byte, enginePath string) {
	modelName, err := multipartModelField(r.Header.Get("Content-Type"), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
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

func multipartModelField(contentType string, body []byte) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" {
		return "", nil
	}
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if part.FormName() == "model" {
			value, err := io.ReadAll(part)
			if err != nil {
				return "", err
			}
			return string(value), nil
		}
	}
}
