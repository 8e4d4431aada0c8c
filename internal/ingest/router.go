// Package ingest implements video ingestion: upload intents, asset discovery
// by webhook or polling, and transcript enrichment.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vidscribe/vidscribe/internal/logging"
	"github.com/vidscribe/vidscribe/internal/metrics"
	"github.com/vidscribe/vidscribe/internal/videos"
)

// Enricher runs the transcript and AI steps for a claimed asset.
type Enricher interface {
	Run(ctx context.Context, assetID string) error
}

// Router applies provider notifications to the video store. It is the only
// component that claims enrichment or marks a video FAILED.
type Router struct {
	repo       videos.Repository
	enricher   Enricher
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewRouter(repo videos.Repository, enricher Enricher, dispatcher Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Router {
	return &Router{
		repo:       repo,
		enricher:   enricher,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logging.WithComponent(logger, "router"),
		now:        time.Now,
	}
}

// HandleNotification applies n. A returned error means the store could not
// be updated and the provider should redeliver.
func (r *Router) HandleNotification(ctx context.Context, n Notification) error {
	outcome, err := r.handle(ctx, n)
	if err != nil {
		r.metrics.IncNotification(n.Kind(), "error")
		return fmt.Errorf("handle %s: %w", n.Kind(), err)
	}
	r.metrics.IncNotification(n.Kind(), outcome)
	return nil
}

func (r *Router) handle(ctx context.Context, n Notification) (string, error) {
	switch ev := n.(type) {
	case AssetCreated:
		if ev.AssetID == "" {
			return r.missingID(ev)
		}
		v, err := r.repo.UpsertAsset(ctx, videos.AssetObservation{
			AssetID:         ev.AssetID,
			UploadSessionID: ev.UploadID,
			PlaybackID:      ev.PlaybackID,
			Status:          videos.StatusUploaded,
		}, r.now())
		if err != nil {
			return "", err
		}
		r.logger.Info("asset recorded", "asset_id", v.AssetID, "video_id", v.ID, "status", v.Status)
		return "applied", nil

	case AssetReady:
		if ev.AssetID == "" {
			return r.missingID(ev)
		}
		v, err := r.repo.UpsertAsset(ctx, videos.AssetObservation{
			AssetID:         ev.AssetID,
			UploadSessionID: ev.UploadID,
			PlaybackID:      ev.PlaybackID,
			Status:          videos.StatusUploaded,
		}, r.now())
		if err != nil {
			return "", err
		}
		r.logger.Info("asset ready", "asset_id", v.AssetID, "playback_id", v.PlaybackID, "status", v.Status)
		return "applied", nil

	case TrackReady:
		if !ev.Transcript() {
			r.logger.Debug("ignoring non-transcript track",
				"asset_id", ev.AssetID, "track_id", ev.TrackID, "text_source", ev.TextSource)
			return "ignored", nil
		}
		if ev.AssetID == "" || ev.TrackID == "" {
			return r.missingID(ev)
		}
		return r.claimEnrichment(ctx, ev)

	case AssetErrored:
		if ev.AssetID == "" {
			return r.missingID(ev)
		}
		v, err := r.repo.UpsertAsset(ctx, videos.AssetObservation{
			AssetID: ev.AssetID,
			Status:  videos.StatusFailed,
		}, r.now())
		if err != nil {
			return "", err
		}
		r.logger.Warn("asset errored", "asset_id", v.AssetID, "video_id", v.ID, "message", ev.Message)
		return "applied", nil

	case Unrecognized:
		r.logger.Debug("ignoring unrecognized notification", "type", ev.Type)
		return "ignored", nil

	default:
		return "ignored", nil
	}
}

func (r *Router) claimEnrichment(ctx context.Context, ev TrackReady) (string, error) {
	now := r.now()
	if _, err := r.repo.UpsertAsset(ctx, videos.AssetObservation{
		AssetID: ev.AssetID,
		Status:  videos.StatusUploaded,
	}, now); err != nil {
		return "", err
	}

	claimed, err := r.repo.ClaimEnrichment(ctx, ev.AssetID, ev.TrackID, now)
	if err != nil {
		return "", err
	}
	if !claimed {
		r.logger.Info("enrichment already claimed", "asset_id", ev.AssetID, "track_id", ev.TrackID)
		return "duplicate", nil
	}

	r.logger.Info("enrichment claimed", "asset_id", ev.AssetID, "track_id", ev.TrackID)
	assetID := ev.AssetID
	r.dispatcher.Dispatch("enrich:"+assetID, func(ctx context.Context) {
		// The pipeline records its own failures.
		_ = r.enricher.Run(ctx, assetID)
	})
	return "claimed", nil
}

func (r *Router) missingID(n Notification) (string, error) {
	r.logger.Warn("notification missing required id", "kind", n.Kind())
	return "missing_id", nil
}
