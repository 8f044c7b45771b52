package lmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLiveReportsServerReachability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	require.True(t, c.Live(context.Background()))

	c2 := New("http://127.0.0.1:1", "")
	require.False(t, c2.Live(context.Background()))
}

func TestListDecodesModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/models", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("show_all"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []Model{{ID: "user.test", Checkpoint: "org/Test:Q4", Recipe: "llamacpp"}},
		})
	}))
	defer srv.Close()

	models, err := New(srv.URL, "").List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "user.test", models[0].ID)
}

func TestDeleteSurfacesServerErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(statusMessage{Status: "error", Message: "unknown model"})
	}))
	defer srv.Close()

	err := New(srv.URL, "").Delete(context.Background(), "nope")
	require.ErrorContains(t, err, "unknown model")
}

func TestPullStreamsProgressThenComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte("event: progress\ndata: {\"status\":\"downloading\"}\n\n"))
		flusher.Flush()
		w.Write([]byte("event: complete\ndata: {\"status\":\"success\"}\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	var events []PullProgress
	err := New(srv.URL, "").Pull(context.Background(), "user.test", func(p PullProgress) {
		events = append(events, p)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "progress", events[0].Event)
	require.Equal(t, "complete", events[1].Event)
}

func TestPullStopsOnErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte("event: error\ndata: {\"error\":\"not found\"}\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	err := New(srv.URL, "").Pull(context.Background(), "nope", func(PullProgress) {})
	require.ErrorContains(t, err, "not found")
}
