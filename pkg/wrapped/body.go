package wrapped

import (
	"bytes"
	"io"
	"net/http"
)

// ReadAndReplaceBody drains r.Body, returning its bytes, and installs a fresh
// io.ReadCloser over those same bytes so the request can still be read
// downstream (by the reverse proxy) after inspection here. Used by engine
// adapters that need targeted JSON field surgery (gjson/sjson) on the way
// through, without a full unmarshal/remarshal round trip.
func ReadAndReplaceBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// SetBody installs body as r's request body, fixing up Content-Length so the
// downstream reverse proxy forwards the rewritten length rather than the
// original.
func SetBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
}
