package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vidscribe/vidscribe/internal/apperr"
	"github.com/vidscribe/vidscribe/internal/logging"
	"github.com/vidscribe/vidscribe/internal/metrics"
	"github.com/vidscribe/vidscribe/internal/videos"
)

// RetryPolicy bounds enrichment retries for videos stuck at PROCESSING_AI.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Lease is how long after a claim a run may still be in flight.
	Lease time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Minute,
		MaxDelay:    30 * time.Minute,
		Lease:       2 * time.Minute,
	}
}

// Backoff is the wait after the given number of attempts: base * 2^(n-1),
// capped at MaxDelay.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

const sweepBatch = 50

// Sweeper periodically re-runs enrichment for videos whose last attempt
// failed or was interrupted.
type Sweeper struct {
	repo       videos.Repository
	enricher   Enricher
	dispatcher Dispatcher
	policy     RetryPolicy
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	running    atomic.Bool
}

func NewSweeper(repo videos.Repository, enricher Enricher, dispatcher Dispatcher, policy RetryPolicy, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		repo:       repo,
		enricher:   enricher,
		dispatcher: dispatcher,
		policy:     policy,
		interval:   interval,
		metrics:    m,
		logger:     logging.WithComponent(logger, "sweeper"),
		now:        time.Now,
	}
}

// Start blocks, sweeping every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}
	defer s.running.Store(false)

	s.logger.Info("enrichment sweeper started",
		"interval", s.interval.String(),
		"max_attempts", s.policy.MaxAttempts,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("enrichment sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) IsRunning() bool {
	return s.running.Load()
}

// SweepOnce dispatches retries for every due video and returns how many
// were claimed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	stalled, err := s.repo.ListStalled(ctx, now.Add(-s.policy.Lease), s.policy.MaxAttempts, sweepBatch)
	if err != nil {
		return 0, err
	}

	claimed := 0
	for _, v := range stalled {
		if now.Before(v.UpdatedAt.Add(s.policy.Backoff(v.EnrichmentAttempts))) {
			continue
		}

		ok, err := s.repo.ClaimRetry(ctx, v.AssetID, v.UpdatedAt, now)
		if err != nil {
			return claimed, err
		}
		if !ok {
			s.metrics.IncRetry("sweeper", "lost_race")
			continue
		}

		s.metrics.IncRetry("sweeper", "claimed")
		s.logger.Info("retrying enrichment",
			"asset_id", v.AssetID,
			"attempt", v.EnrichmentAttempts+1,
			"last_error", v.LastError,
		)
		s.dispatch(v.AssetID, v.EnrichmentAttempts+1)
		claimed++
	}
	return claimed, nil
}

// RetryNow re-runs enrichment for one video on demand, ignoring the attempt
// cap and backoff.
func (s *Sweeper) RetryNow(ctx context.Context, videoID string) error {
	v, err := s.repo.Get(ctx, videoID)
	if err != nil {
		return err
	}
	if v == nil {
		return apperr.NotFound("video", videoID)
	}
	if v.Status != videos.StatusProcessingAI {
		return apperr.Validation("status", "video is "+string(v.Status)+", not awaiting enrichment")
	}

	now := s.now()
	if v.LastError == "" && now.Before(v.UpdatedAt.Add(s.policy.Lease)) {
		return apperr.Conflict("enrichment for video %s is still running", videoID)
	}

	ok, err := s.repo.ClaimRetry(ctx, v.AssetID, v.UpdatedAt, now)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.IncRetry("manual", "lost_race")
		return apperr.Conflict("enrichment for video %s was claimed concurrently", videoID)
	}

	s.metrics.IncRetry("manual", "claimed")
	s.logger.Info("manual enrichment retry", "asset_id", v.AssetID, "video_id", v.ID)
	s.dispatch(v.AssetID, v.EnrichmentAttempts+1)
	return nil
}

func (s *Sweeper) dispatch(assetID string, attempt int) {
	s.dispatcher.Dispatch("retry:"+assetID, func(ctx context.Context) {
		if err := s.enricher.Run(ctx, assetID); err != nil && attempt >= s.policy.MaxAttempts {
			s.logger.Warn("enrichment retries exhausted",
				"asset_id", assetID,
				"attempts", attempt,
				"error", err,
			)
		}
	})
}
