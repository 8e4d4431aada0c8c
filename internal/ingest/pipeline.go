package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vidscribe/vidscribe/internal/apperr"
	"github.com/vidscribe/vidscribe/internal/logging"
	"github.com/vidscribe/vidscribe/internal/metrics"
	"github.com/vidscribe/vidscribe/internal/mux"
	"github.com/vidscribe/vidscribe/internal/videos"
)

// AssetSource is the provider surface the enrichment pipeline reads from.
type AssetSource interface {
	GetAsset(ctx context.Context, assetID string) (*mux.Asset, error)
	FetchTranscript(ctx context.Context, playbackID, trackID string) (string, error)
}

// ErrNoPlaybackID means the provider has not assigned a playback id yet.
var ErrNoPlaybackID = errors.New("asset has no playback id")

// Pipeline fetches the transcript for a claimed video, enriches it and
// stores the result.
type Pipeline struct {
	repo    videos.Repository
	source  AssetSource
	engine  *Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewPipeline(repo videos.Repository, source AssetSource, engine *Engine, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		repo:    repo,
		source:  source,
		engine:  engine,
		metrics: m,
		logger:  logging.WithComponent(logger, "pipeline"),
		now:     time.Now,
	}
}

// Run enriches the video for assetID. The video must already be claimed
// (PROCESSING_AI). Failures are recorded on the video, which stays at
// PROCESSING_AI for a later retry.
func (p *Pipeline) Run(ctx context.Context, assetID string) error {
	start := time.Now()
	logger := logging.WithAssetID(p.logger, assetID)

	outcome, err := p.run(ctx, logger, assetID)
	p.metrics.ObserveEnrichment(outcome, time.Since(start))
	if err == nil {
		return nil
	}

	logger.Error("enrichment failed", "error", err, "duration", time.Since(start).String())

	// The job context may already be expired; the failure still needs to land.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := p.repo.RecordEnrichmentFailure(rctx, assetID, logging.Truncate(err.Error(), 500), p.now()); rerr != nil {
		logger.Error("failed to record enrichment failure", "error", rerr)
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, assetID string) (string, error) {
	v, err := p.repo.GetByAsset(ctx, assetID)
	if err != nil {
		return "error", fmt.Errorf("load video: %w", err)
	}
	if v == nil {
		return "error", apperr.NotFound("video", assetID)
	}
	if v.Status != videos.StatusProcessingAI {
		logger.Info("skipping enrichment", "status", v.Status)
		return "skipped", nil
	}
	if v.TranscriptTrackID == "" {
		return "error", apperr.Validation("transcript_track_id", "not recorded for asset")
	}

	playbackID, err := p.playbackID(ctx, v)
	if err != nil {
		return "upstream_error", err
	}

	transcript, err := p.source.FetchTranscript(ctx, playbackID, v.TranscriptTrackID)
	if err != nil {
		if errors.Is(err, mux.ErrTranscriptUnavailable) {
			return "transcript_unavailable", err
		}
		return "upstream_error", fmt.Errorf("fetch transcript: %w", err)
	}
	logger.Info("transcript fetched",
		"track_id", v.TranscriptTrackID,
		"size", humanize.Bytes(uint64(len(transcript))),
	)

	summary, description, err := p.engine.Enrich(ctx, assetID, transcript)
	if err != nil {
		return "ai_error", fmt.Errorf("enrich: %w", err)
	}

	applied, err := p.repo.CompleteEnrichment(ctx, assetID, videos.Enrichment{
		Transcript:  transcript,
		Summary:     summary,
		Description: description,
	}, p.now())
	if err != nil {
		return "error", fmt.Errorf("store enrichment: %w", err)
	}
	if !applied {
		// The asset failed upstream while the run was in flight.
		logger.Warn("video changed during enrichment, result discarded")
		return "discarded", nil
	}

	logger.Info("enrichment completed")
	return "completed", nil
}

func (p *Pipeline) playbackID(ctx context.Context, v *videos.Video) (string, error) {
	if v.PlaybackID != "" {
		return v.PlaybackID, nil
	}

	asset, err := p.source.GetAsset(ctx, v.AssetID)
	if err != nil {
		return "", fmt.Errorf("get asset: %w", err)
	}
	playbackID := asset.PlaybackID()
	if playbackID == "" {
		return "", &apperr.UpstreamError{Service: "mux", Message: "no playback id", Err: ErrNoPlaybackID}
	}

	if err := p.repo.SetPlaybackID(ctx, v.AssetID, playbackID, p.now()); err != nil {
		return "", fmt.Errorf("store playback id: %w", err)
	}
	return playbackID, nil
}
