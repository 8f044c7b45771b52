// Package lmclient is the thin HTTP client cmd/lemonade-server's
// subcommands use to talk to a locally-running lemonade-server daemon,
// grounded on the teacher CLI's desktop.Client — a small wrapper around
// http.Client with JSON request/response helpers and no session state of
// its own.
package lmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotRunning is returned when the daemon cannot be reached at all,
// distinguished from an HTTP error response so callers (status, in
// particular) can report "not running" rather than a transport error.
var ErrNotRunning = fmt.Errorf("lemonade-server is not running")

// Client talks to one lemonade-server instance's /api/v1 surface.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client targeting baseURL (e.g. "http://127.0.0.1:8000").
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody interface{}) (int, error) {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, ErrNotRunning
	}
	defer resp.Body.Close()

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Live reports whether the daemon is reachable at all.
func (c *Client) Live(ctx context.Context) bool {
	req, err := c.newRequest(ctx, http.MethodGet, "/live", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	_, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out)
	if err != nil {
		return out, err
	}
	return out, nil
}

// HealthResponse mirrors pkg/httpapi's GET /health body.
type HealthResponse struct {
	Status          string         `json:"status"`
	AllModelsLoaded []LoadedEntry  `json:"all_models_loaded"`
	MaxModels       map[string]int `json:"max_models"`
}

// LoadedEntry mirrors one entry of scheduler.ListLoaded as serialized over
// the wire.
type LoadedEntry struct {
	Name    string `json:"name"`
	Pending bool   `json:"pending"`
}

// Model mirrors pkg/httpapi's modelView.
type Model struct {
	ID         string   `json:"id"`
	Checkpoint string   `json:"checkpoint"`
	Recipe     string   `json:"recipe"`
	ModelType  string   `json:"model_type"`
	Labels     []string `json:"labels,omitempty"`
}

// List fetches GET /models?show_all=.
func (c *Client) List(ctx context.Context, showAll bool) ([]Model, error) {
	path := "/api/v1/models"
	if showAll {
		path += "?show_all=true"
	}
	var out struct {
		Data []Model `json:"data"`
	}
	_, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Data, err
}

// statusMessage mirrors the {status,message} body every admin write
// endpoint returns.
type statusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Load issues POST /load.
func (c *Client) Load(ctx context.Context, modelName string, ctxSize int) error {
	req := map[string]interface{}{"model_name": modelName}
	if ctxSize > 0 {
		req["ctx_size"] = ctxSize
	}
	var out statusMessage
	code, err := c.do(ctx, http.MethodPost, "/api/v1/load", req, &out)
	if err != nil {
		return err
	}
	if code >= 400 {
		return fmt.Errorf("%s", out.Message)
	}
	return nil
}

// Unload issues POST /unload. An empty modelName unloads every resident model.
func (c *Client) Unload(ctx context.Context, modelName string) error {
	req := map[string]string{}
	if modelName != "" {
		req["model_name"] = modelName
	}
	var out statusMessage
	code, err := c.do(ctx, http.MethodPost, "/api/v1/unload", req, &out)
	if err != nil {
		return err
	}
	if code >= 400 {
		return fmt.Errorf("%s", out.Message)
	}
	return nil
}

// Delete issues POST /delete.
func (c *Client) Delete(ctx context.Context, modelName string) error {
	req := map[string]string{"model_name": modelName}
	var out statusMessage
	code, err := c.do(ctx, http.MethodPost, "/api/v1/delete", req, &out)
	if err != nil {
		return err
	}
	if code >= 400 {
		return fmt.Errorf("%s", out.Message)
	}
	return nil
}

// PullProgress is one decoded SSE event from a streaming /pull request.
type PullProgress struct {
	Event string
	Data  string
}

// ChatDelta is one decoded streaming chunk from Chat: a non-empty piece of
// assistant content. Chunks without content are not delivered.
type ChatDelta struct {
	Content string
}

// Chat issues a streaming POST /chat/completions for a single user prompt
// and invokes onDelta for each content fragment as it arrives, following the
// teacher CLI's ChatWithContext SSE-scanning idiom.
func (c *Client) Chat(ctx context.Context, modelName, prompt string, onDelta func(ChatDelta)) error {
	reqBody := map[string]interface{}{
		"model": modelName,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": true,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat failed: status=%d body=%s", resp.StatusCode, body)
	}

	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				onDelta(ChatDelta{Content: choice.Delta.Content})
			}
		}
	}
	return scanner.Err()
}

// Pull issues a streaming POST /pull and invokes onEvent for each SSE event
// until the stream completes or the server reports an error.
func (c *Client) Pull(ctx context.Context, modelName string, onEvent func(PullProgress)) error {
	body, err := json.Marshal(map[string]interface{}{"model_name": modelName, "stream": true})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull failed: %s", string(data))
	}

	scanner := bufio.NewScanner(resp.Body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			onEvent(PullProgress{Event: event, Data: data})
			if event == "error" {
				return fmt.Errorf("pull failed: %s", data)
			}
		}
	}
	return scanner.Err()
}
