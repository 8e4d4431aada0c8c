package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vidscribe/vidscribe/internal/apperr"
	"github.com/vidscribe/vidscribe/internal/logging"
	"github.com/vidscribe/vidscribe/internal/mux"
	"github.com/vidscribe/vidscribe/internal/videos"
)

// scriptedLookup returns uploads in order, repeating the last one.
type scriptedLookup struct {
	uploads    []uploadStep
	calls      int
	playbackID string
	assetErr   error
}

type uploadStep struct {
	upload *mux.Upload
	err    error
}

func (l *scriptedLookup) GetUpload(ctx context.Context, uploadID string) (*mux.Upload, error) {
	step := l.uploads[min(l.calls, len(l.uploads)-1)]
	l.calls++
	if step.err != nil {
		return nil, step.err
	}
	up := *step.upload
	up.ID = uploadID
	return &up, nil
}

func (l *scriptedLookup) GetAsset(ctx context.Context, assetID string) (*mux.Asset, error) {
	if l.assetErr != nil {
		return nil, l.assetErr
	}
	a := &mux.Asset{ID: assetID}
	if l.playbackID != "" {
		a.PlaybackIDs = []mux.PlaybackID{{ID: l.playbackID, Policy: "public"}}
	}
	return a, nil
}

func waiting() uploadStep {
	return uploadStep{upload: &mux.Upload{Status: mux.UploadWaiting}}
}

func created(assetID string) uploadStep {
	return uploadStep{upload: &mux.Upload{Status: mux.UploadAssetCreated, AssetID: assetID}}
}

func newTestDiscovery(t *testing.T, repo videos.Repository, lookup UploadLookup) (*Discovery, *[]time.Duration) {
	t.Helper()
	d := NewDiscovery(lookup, repo, PollPolicy{SettleDelay: time.Second, Retries: 3, Interval: 2 * time.Second}, nil, logging.Discard())
	var slept []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return ctx.Err()
	}
	d.now = func() time.Time { return t0 }
	return d, &slept
}

func TestCheckUpload_NotReady(t *testing.T) {
	repo := newTestRepo(t)
	d, _ := newTestDiscovery(t, repo, &scriptedLookup{uploads: []uploadStep{waiting()}})

	res, err := d.CheckUpload(context.Background(), "U1")
	require.NoError(t, err)
	require.False(t, res.Ready())
	require.Equal(t, mux.UploadWaiting, res.Status)
	require.Equal(t, "Asset not ready yet", res.Message)

	all, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestCheckUpload_RecordsAsset(t *testing.T) {
	repo := newTestRepo(t)
	d, _ := newTestDiscovery(t, repo, &scriptedLookup{uploads: []uploadStep{created("A1")}, playbackID: "P1"})

	res, err := d.CheckUpload(context.Background(), " U1 ")
	require.NoError(t, err)
	require.True(t, res.Ready())
	require.Equal(t, "A1", res.AssetID)
	require.Equal(t, string(videos.StatusUploaded), res.Status)

	v, err := repo.GetByAsset(context.Background(), "A1")
	require.NoError(t, err)
	require.Equal(t, res.VideoID, v.ID)
	require.Equal(t, "U1", v.UploadSessionID)
	require.Equal(t, "P1", v.PlaybackID)
}

func TestCheckUpload_AssetLookupFailureIsTolerated(t *testing.T) {
	repo := newTestRepo(t)
	lookup := &scriptedLookup{
		uploads:  []uploadStep{created("A1")},
		assetErr: &apperr.UpstreamError{Service: "mux", StatusCode: 500},
	}
	d, _ := newTestDiscovery(t, repo, lookup)

	res, err := d.CheckUpload(context.Background(), "U1")
	require.NoError(t, err)
	require.True(t, res.Ready())
}

func TestCheckUpload_RequiresID(t *testing.T) {
	d, _ := newTestDiscovery(t, newTestRepo(t), &scriptedLookup{uploads: []uploadStep{waiting()}})

	_, err := d.CheckUpload(context.Background(), "  ")
	require.True(t, apperr.IsValidation(err))
	_, err = d.AwaitUpload(context.Background(), "")
	require.True(t, apperr.IsValidation(err))
}

func TestDiscovery_WebhookAndPollingConverge(t *testing.T) {
	for _, webhookFirst := range []bool{true, false} {
		repo := newTestRepo(t)
		d, _ := newTestDiscovery(t, repo, &scriptedLookup{uploads: []uploadStep{created("A1")}})
		router := NewRouter(repo, &countingEnricher{}, &inlineDispatcher{}, nil, logging.Discard())
		ctx := context.Background()

		webhook := func() {
			require.NoError(t, router.HandleNotification(ctx, AssetCreated{AssetID: "A1", UploadID: "U1", PlaybackID: "P1"}))
		}
		if webhookFirst {
			webhook()
		}
		res, err := d.CheckUpload(ctx, "U1")
		require.NoError(t, err)
		if !webhookFirst {
			webhook()
		}

		all, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1, "webhookFirst=%v", webhookFirst)
		require.Equal(t, res.VideoID, all[0].ID)
		require.Equal(t, "U1", all[0].UploadSessionID)
		require.Equal(t, "P1", all[0].PlaybackID)
		require.Equal(t, videos.StatusUploaded, all[0].Status)
	}
}

func TestAwaitUpload_ReadyAfterRetries(t *testing.T) {
	lookup := &scriptedLookup{uploads: []uploadStep{waiting(), waiting(), created("A1")}}
	d, slept := newTestDiscovery(t, newTestRepo(t), lookup)

	res, err := d.AwaitUpload(context.Background(), "U1")
	require.NoError(t, err)
	require.True(t, res.Ready())
	require.Equal(t, 3, lookup.calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}, *slept)
}

func TestAwaitUpload_GivesUpWithoutError(t *testing.T) {
	lookup := &scriptedLookup{uploads: []uploadStep{waiting()}}
	d, slept := newTestDiscovery(t, newTestRepo(t), lookup)

	res, err := d.AwaitUpload(context.Background(), "U1")
	require.NoError(t, err)
	require.False(t, res.Ready())
	require.Equal(t, "Asset not ready yet", res.Message)
	require.Equal(t, 4, lookup.calls)
	require.Len(t, *slept, 4)
}

func TestAwaitUpload_TransientErrorsRetry(t *testing.T) {
	lookup := &scriptedLookup{uploads: []uploadStep{
		{err: &apperr.UpstreamError{Service: "mux", StatusCode: 503}},
		created("A1"),
	}}
	d, _ := newTestDiscovery(t, newTestRepo(t), lookup)

	res, err := d.AwaitUpload(context.Background(), "U1")
	require.NoError(t, err)
	require.True(t, res.Ready())
	require.Equal(t, 2, lookup.calls)
}

func TestAwaitUpload_StopsOnPermanentFailure(t *testing.T) {
	lookup := &scriptedLookup{uploads: []uploadStep{
		{upload: &mux.Upload{Status: mux.UploadErrored, ErrorMessage: "file too large"}},
	}}
	d, _ := newTestDiscovery(t, newTestRepo(t), lookup)

	res, err := d.AwaitUpload(context.Background(), "U1")
	require.NoError(t, err)
	require.False(t, res.Ready())
	require.Equal(t, "file too large", res.Message)
	require.Equal(t, 1, lookup.calls)
}

func TestAwaitUpload_NonRetryableErrorIsReturned(t *testing.T) {
	lookup := &scriptedLookup{uploads: []uploadStep{{err: apperr.NotFound("upload", "U1")}}}
	d, _ := newTestDiscovery(t, newTestRepo(t), lookup)

	_, err := d.AwaitUpload(context.Background(), "U1")
	require.True(t, apperr.IsNotFound(err))
	require.Equal(t, 1, lookup.calls)
}

func TestAwaitUpload_Cancelled(t *testing.T) {
	lookup := &scriptedLookup{uploads: []uploadStep{waiting()}}
	d, _ := newTestDiscovery(t, newTestRepo(t), lookup)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.AwaitUpload(ctx, "U1")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, lookup.calls)
}

// hangingLookup blocks every call until its context ends.
type hangingLookup struct {
	calls atomic.Int32
}

func (l *hangingLookup) GetUpload(ctx context.Context, uploadID string) (*mux.Upload, error) {
	l.calls.Add(1)
	<-ctx.Done()
	return nil, &apperr.UpstreamError{Service: "mux", Err: ctx.Err()}
}

func (l *hangingLookup) GetAsset(ctx context.Context, assetID string) (*mux.Asset, error) {
	<-ctx.Done()
	return nil, &apperr.UpstreamError{Service: "mux", Err: ctx.Err()}
}

func TestAwaitUpload_DeadlineStopsHangingLookup(t *testing.T) {
	lookup := &hangingLookup{}
	d := NewDiscovery(lookup, newTestRepo(t), PollPolicy{Retries: 5, Deadline: 50 * time.Millisecond}, nil, logging.Discard())

	start := time.Now()
	res, err := d.AwaitUpload(context.Background(), "U1")
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
	require.False(t, res.Ready())
	require.Equal(t, mux.UploadWaiting, res.Status)
	require.EqualValues(t, 1, lookup.calls.Load())
}

func TestAwaitUpload_DeadlineDuringInterval(t *testing.T) {
	lookup := &scriptedLookup{uploads: []uploadStep{waiting()}}
	d := NewDiscovery(lookup, newTestRepo(t), PollPolicy{Retries: 5, Interval: time.Hour, Deadline: 20 * time.Millisecond}, nil, logging.Discard())

	res, err := d.AwaitUpload(context.Background(), "U1")
	require.NoError(t, err)
	require.False(t, res.Ready())
	require.Equal(t, 1, lookup.calls)
}

func TestAwaitUpload_OneRequestPerAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	client := mux.NewHTTPClient(mux.Config{
		BaseURL:    srv.URL,
		Timeout:    50 * time.Millisecond,
		MaxRetries: 3,
		RetryBase:  time.Millisecond,
		RetryMax:   5 * time.Millisecond,
	}, nil)
	d := NewDiscovery(client, newTestRepo(t), PollPolicy{Retries: 2, Deadline: 2 * time.Second}, nil, logging.Discard())

	res, err := d.AwaitUpload(context.Background(), "U1")
	require.NoError(t, err)
	require.False(t, res.Ready())
	require.EqualValues(t, 3, hits.Load())
}
