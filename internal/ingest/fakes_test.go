package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vidscribe/vidscribe/internal/db"
	"github.com/vidscribe/vidscribe/internal/logging"
	"github.com/vidscribe/vidscribe/internal/mux"
	"github.com/vidscribe/vidscribe/internal/videos"
)

var t0 = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestRepo(t *testing.T) *videos.SQLRepository {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "ingest.db"), 1, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return videos.NewRepository(database.Conn(), database.Dialect())
}

// inlineDispatcher runs jobs on the calling goroutine.
type inlineDispatcher struct {
	names []string
}

func (d *inlineDispatcher) Dispatch(name string, job func(ctx context.Context)) {
	d.names = append(d.names, name)
	job(context.Background())
}

type fakeSource struct {
	mu          sync.Mutex
	playbackIDs map[string]string
	transcripts map[string]string
	fetchErr    error
	assetCalls  int
	fetchCalls  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		playbackIDs: map[string]string{},
		transcripts: map[string]string{},
	}
}

func (s *fakeSource) GetAsset(ctx context.Context, assetID string) (*mux.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assetCalls++
	a := &mux.Asset{ID: assetID, Status: "ready"}
	if pb := s.playbackIDs[assetID]; pb != "" {
		a.PlaybackIDs = []mux.PlaybackID{{ID: pb, Policy: "public"}}
	}
	return a, nil
}

func (s *fakeSource) FetchTranscript(ctx context.Context, playbackID, trackID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return "", s.fetchErr
	}
	text, ok := s.transcripts[playbackID+"/"+trackID]
	if !ok {
		return "", mux.ErrTranscriptUnavailable
	}
	return text, nil
}

// fakeCompleter answers summary and description prompts with fixed text.
type fakeCompleter struct {
	calls atomic.Int32
	err   error
	empty bool

	mu      sync.Mutex
	prompts []string
}

func (c *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	if c.err != nil {
		return "", c.err
	}
	if c.empty {
		return "", nil
	}
	if strings.HasPrefix(prompt, summaryPrompt) {
		return "A short greeting.", nil
	}
	return "Say hello.\n- greeting\n#hello", nil
}

type countingEnricher struct {
	calls atomic.Int32
	err   error
}

func (e *countingEnricher) Run(ctx context.Context, assetID string) error {
	e.calls.Add(1)
	return e.err
}

// harness wires the router to a real pipeline over a SQLite store.
type harness struct {
	repo       *videos.SQLRepository
	source     *fakeSource
	completer  *fakeCompleter
	dispatcher *inlineDispatcher
	pipeline   *Pipeline
	router     *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:       newTestRepo(t),
		source:     newFakeSource(),
		completer:  &fakeCompleter{},
		dispatcher: &inlineDispatcher{},
	}
	logger := logging.Discard()
	engine := NewEngine(h.completer, "gemini", nil, logger)
	h.pipeline = NewPipeline(h.repo, h.source, engine, nil, logger)
	h.router = NewRouter(h.repo, h.pipeline, h.dispatcher, nil, logger)
	return h
}

func (h *harness) handle(t *testing.T, n Notification) {
	t.Helper()
	require.NoError(t, h.router.HandleNotification(context.Background(), n))
}

func (h *harness) video(t *testing.T, assetID string) *videos.Video {
	t.Helper()
	v, err := h.repo.GetByAsset(context.Background(), assetID)
	require.NoError(t, err)
	require.NotNil(t, v, "no video for asset %s", assetID)
	return v
}

func transcriptTrack(assetID, trackID string) TrackReady {
	return TrackReady{AssetID: assetID, TrackID: trackID, TrackType: "text", TextSource: TextSourceGeneratedVOD}
}
