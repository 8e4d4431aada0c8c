package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vidscribe/vidscribe/internal/apperr"
	"github.com/vidscribe/vidscribe/internal/logging"
	"github.com/vidscribe/vidscribe/internal/metrics"
	"github.com/vidscribe/vidscribe/internal/mux"
	"github.com/vidscribe/vidscribe/internal/videos"
)

// UploadLookup is the provider surface used to discover assets by upload.
type UploadLookup interface {
	GetUpload(ctx context.Context, uploadID string) (*mux.Upload, error)
	GetAsset(ctx context.Context, assetID string) (*mux.Asset, error)
}

// Resolution is what the provider currently knows about an upload. AssetID
// is empty until the provider has created the asset.
type Resolution struct {
	AssetID        string
	PlaybackID     string
	ProviderStatus string
	Message        string
}

// CheckResult is the outcome of one discovery attempt. When the asset
// exists, Status is the stored video status after the merge.
type CheckResult struct {
	AssetID string
	VideoID string
	Status  string
	Message string
}

func (c *CheckResult) Ready() bool {
	return c.AssetID != ""
}

// PollPolicy bounds AwaitUpload: one check after SettleDelay, then up to
// Retries more checks spaced by Interval, all within Deadline when set.
type PollPolicy struct {
	SettleDelay time.Duration
	Retries     int
	Interval    time.Duration
	Deadline    time.Duration
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		SettleDelay: 2 * time.Second,
		Retries:     5,
		Interval:    2 * time.Second,
		Deadline:    45 * time.Second,
	}
}

// Discovery resolves upload sessions to assets and records them.
type Discovery struct {
	lookup  UploadLookup
	repo    videos.Repository
	policy  PollPolicy
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewDiscovery(lookup UploadLookup, repo videos.Repository, policy PollPolicy, m *metrics.Metrics, logger *slog.Logger) *Discovery {
	return &Discovery{
		lookup:  lookup,
		repo:    repo,
		policy:  policy,
		metrics: m,
		logger:  logging.WithComponent(logger, "discovery"),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// ResolveAsset looks up an upload session once. When an asset is assigned,
// a second best-effort lookup supplies its playback id.
func (d *Discovery) ResolveAsset(ctx context.Context, uploadID string) (*Resolution, error) {
	up, err := d.lookup.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	res := &Resolution{AssetID: up.AssetID, ProviderStatus: up.Status}
	if up.AssetID == "" {
		res.Message = uploadMessage(up)
		return res, nil
	}

	asset, err := d.lookup.GetAsset(ctx, up.AssetID)
	if err != nil {
		d.logger.Warn("asset lookup failed, continuing without playback id",
			"asset_id", up.AssetID, "error", err)
		return res, nil
	}
	res.PlaybackID = asset.PlaybackID()
	return res, nil
}

func uploadMessage(up *mux.Upload) string {
	switch up.Status {
	case mux.UploadWaiting, "":
		return "Asset not ready yet"
	case mux.UploadErrored:
		if up.ErrorMessage != "" {
			return up.ErrorMessage
		}
		return "Upload errored"
	default:
		return up.Status
	}
}

// permanentUploadFailure reports provider upload states that will never
// produce an asset.
func permanentUploadFailure(status string) bool {
	switch status {
	case mux.UploadErrored, mux.UploadCancelled, mux.UploadTimedOut:
		return true
	}
	return false
}

// CheckUpload resolves the upload once and, if the asset exists, records it
// through the same upsert used by notifications.
func (d *Discovery) CheckUpload(ctx context.Context, uploadID string) (*CheckResult, error) {
	uploadID = strings.TrimSpace(uploadID)
	if uploadID == "" {
		return nil, apperr.Validation("uploadSessionId", "is required")
	}

	res, err := d.ResolveAsset(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if res.AssetID == "" {
		return &CheckResult{Status: res.ProviderStatus, Message: res.Message}, nil
	}

	v, err := d.repo.UpsertAsset(ctx, videos.AssetObservation{
		AssetID:         res.AssetID,
		UploadSessionID: uploadID,
		PlaybackID:      res.PlaybackID,
		Status:          videos.StatusUploaded,
	}, d.now())
	if err != nil {
		return nil, err
	}

	logging.WithUpload(d.logger, uploadID).Info("upload resolved",
		"asset_id", v.AssetID, "video_id", v.ID, "status", v.Status)
	return &CheckResult{AssetID: v.AssetID, VideoID: v.ID, Status: string(v.Status)}, nil
}

// AwaitUpload polls CheckUpload under the poll policy. Each attempt makes a
// single provider request, and the whole poll stops at the policy deadline.
// Running out of attempts or time is not an error: the last not-ready result
// is returned and a webhook may still complete discovery later.
func (d *Discovery) AwaitUpload(ctx context.Context, uploadID string) (*CheckResult, error) {
	if strings.TrimSpace(uploadID) == "" {
		return nil, apperr.Validation("uploadSessionId", "is required")
	}

	pollCtx := mux.WithoutRetry(ctx)
	if d.policy.Deadline > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(pollCtx, d.policy.Deadline)
		defer cancel()
	}
	// expired is true when the poll deadline, not the caller, ended the wait.
	expired := func() bool {
		return pollCtx.Err() != nil && ctx.Err() == nil
	}

	last := &CheckResult{Status: mux.UploadWaiting, Message: "Asset not ready yet"}
	if err := d.sleep(pollCtx, d.policy.SettleDelay); err != nil {
		if expired() {
			return d.deadlineReached(uploadID, last, 0), nil
		}
		return nil, err
	}

	for attempt := 0; attempt <= d.policy.Retries; attempt++ {
		if attempt > 0 {
			if err := d.sleep(pollCtx, d.policy.Interval); err != nil {
				if expired() {
					return d.deadlineReached(uploadID, last, attempt), nil
				}
				return nil, err
			}
		}

		res, err := d.CheckUpload(pollCtx, uploadID)
		switch {
		case err == nil:
		case expired():
			return d.deadlineReached(uploadID, last, attempt+1), nil
		case apperr.IsRetryable(err) && ctx.Err() == nil:
			d.metrics.IncPollAttempt("transient_error")
			d.logger.Warn("upload check failed, will retry",
				"upload_session_id", uploadID, "attempt", attempt+1, "error", err)
			continue
		default:
			d.metrics.IncPollAttempt("error")
			return nil, err
		}

		last = res
		if res.Ready() {
			d.metrics.IncPollAttempt("ready")
			return res, nil
		}
		if permanentUploadFailure(res.Status) {
			d.metrics.IncPollAttempt("failed")
			return res, nil
		}
		d.metrics.IncPollAttempt("not_ready")
	}

	d.logger.Info("upload not ready after polling",
		"upload_session_id", uploadID, "attempts", d.policy.Retries+1)
	return last, nil
}

func (d *Discovery) deadlineReached(uploadID string, last *CheckResult, attempts int) *CheckResult {
	d.metrics.IncPollAttempt("deadline")
	d.logger.Info("upload poll deadline reached",
		"upload_session_id", uploadID, "attempts", attempts, "deadline", d.policy.Deadline)
	return last
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
