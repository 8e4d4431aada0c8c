package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vidscribe/vidscribe/internal/ai"
	"github.com/vidscribe/vidscribe/internal/db"
	"github.com/vidscribe/vidscribe/internal/ingest"
	"github.com/vidscribe/vidscribe/internal/logging"
	"github.com/vidscribe/vidscribe/internal/metrics"
	"github.com/vidscribe/vidscribe/internal/mux"
	"github.com/vidscribe/vidscribe/internal/videos"
)

const imageBase = "https://image.example"

// fakeUpstream plays both the video provider and the completion service.
type fakeUpstream struct {
	mu          sync.Mutex
	uploads     map[string]string // upload id -> asset id
	playbackIDs map[string]string // asset id -> playback id
	transcripts map[string]string // "pb/track" -> text
	failCreate  bool
	deleteCode  int
	deleted     []string

	completions atomic.Int32
}

func newFakeUpstream(t *testing.T) (*fakeUpstream, *httptest.Server) {
	t.Helper()
	f := &fakeUpstream{
		uploads:     map[string]string{},
		playbackIDs: map[string]string{},
		transcripts: map[string]string{},
	}

	h := http.NewServeMux()
	h.HandleFunc("POST /video/v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		if f.failCreate {
			http.Error(w, `{"error":{"type":"internal","messages":["boom"]}}`, http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"data":{"id":"U1","url":"https://storage.example/put/U1","status":"waiting"}}`)
	})
	h.HandleFunc("GET /video/v1/uploads/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		assetID, ok := f.uploads[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":{"type":"not_found"}}`, http.StatusNotFound)
			return
		}
		status := mux.UploadWaiting
		if assetID != "" {
			status = mux.UploadAssetCreated
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"id": r.PathValue("id"), "status": status, "asset_id": assetID,
		}})
	})
	h.HandleFunc("GET /video/v1/assets/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		pb := f.playbackIDs[r.PathValue("id")]
		f.mu.Unlock()
		asset := map[string]any{"id": r.PathValue("id"), "status": "ready"}
		if pb != "" {
			asset["playback_ids"] = []map[string]string{{"id": pb, "policy": "public"}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": asset})
	})
	h.HandleFunc("POST /video/v1/assets", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"id":"A7","status":"preparing","playback_ids":[{"id":"P7","policy":"public"}]}}`)
	})
	h.HandleFunc("DELETE /video/v1/assets/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		code := f.deleteCode
		f.mu.Unlock()
		if code == 0 {
			code = http.StatusNoContent
		}
		w.WriteHeader(code)
	})
	h.HandleFunc("GET /stream/{pb}/text/{file}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		text, ok := f.transcripts[r.PathValue("pb")+"/"+strings.TrimSuffix(r.PathValue("file"), ".txt")]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, text)
	})
	h.HandleFunc("/v1beta/", func(w http.ResponseWriter, r *http.Request) {
		f.completions.Add(1)
		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		text := "Generated description."
		if strings.Contains(req.Contents[0].Parts[0].Text, "concise summary") {
			text = "Generated summary."
		}
		json.NewEncoder(w).Encode(map[string]any{"candidates": []map[string]any{{
			"content": map[string]any{"parts": []map[string]string{{"text": text}}},
		}}})
	})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return f, srv
}

type syncDispatcher struct{}

func (syncDispatcher) Dispatch(name string, job func(ctx context.Context)) {
	job(context.Background())
}

type testAPI struct {
	handler  http.Handler
	upstream *fakeUpstream
	repo     *videos.SQLRepository
}

type apiOption func(*ServerConfig)

func withToken(token string) apiOption {
	return func(c *ServerConfig) { c.APIToken = token }
}

func withWebhookSecret(secret string) apiOption {
	return func(c *ServerConfig) { c.WebhookSecret = secret }
}

func newTestAPI(t *testing.T, opts ...apiOption) *testAPI {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "api.db"), 1, logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	repo := videos.NewRepository(database.Conn(), database.Dialect())

	m := metrics.New()
	upstream, srv := newFakeUpstream(t)
	client := mux.NewHTTPClient(mux.Config{
		BaseURL:   srv.URL,
		StreamURL: srv.URL + "/stream",
		TokenID:   "id",
		RetryBase: time.Millisecond,
		RetryMax:  5 * time.Millisecond,
		Metrics:   m,
	}, logger)
	completer, err := ai.NewCompleter(ai.Config{Provider: "gemini", APIKey: "k", APIURL: srv.URL})
	require.NoError(t, err)

	engine := ingest.NewEngine(completer, "gemini", m, logger)
	pipeline := ingest.NewPipeline(repo, client, engine, m, logger)
	dispatcher := syncDispatcher{}

	cfg := ServerConfig{
		Issuer:    ingest.NewIssuer(client, repo, mux.DefaultAssetPolicy(), logger),
		Discovery: ingest.NewDiscovery(client, repo, ingest.PollPolicy{Retries: 1}, m, logger),
		Router:    ingest.NewRouter(repo, pipeline, dispatcher, m, logger),
		Sweeper:   ingest.NewSweeper(repo, pipeline, dispatcher, ingest.DefaultRetryPolicy(), time.Minute, m, logger),
		Library:   videos.NewService(repo, client, logger),
		DB:        database.Conn(),
		Metrics:   m,
		Logger:    logger,
		ImageURL:  imageBase,
		Version:   "test",
		StartTime: time.Now(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testAPI{handler: NewRouter(cfg), upstream: upstream, repo: repo}
}

func (a *testAPI) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(&out), rr.Body.String())
	return out
}

func requireError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rr.Code, rr.Body.String())
	require.Equal(t, code, decodeBody[ErrorResponse](t, rr).Code)
}
