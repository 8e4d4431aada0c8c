package ingest

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/vidscribe/vidscribe/internal/apperr"
	"github.com/vidscribe/vidscribe/internal/logging"
	"github.com/vidscribe/vidscribe/internal/mux"
	"github.com/vidscribe/vidscribe/internal/videos"
)

// AssetCreator is the provider surface that starts new assets.
type AssetCreator interface {
	CreateUpload(ctx context.Context, policy mux.AssetPolicy) (*mux.Upload, error)
	CreateAsset(ctx context.Context, inputURL string, policy mux.AssetPolicy) (*mux.Asset, error)
}

type UploadIntent struct {
	UploadURL       string
	UploadSessionID string
}

type IngestResult struct {
	AssetID        string
	PlaybackID     string
	VideoID        string
	Status         string
	ProviderStatus string
}

// Issuer starts uploads on the provider with a fixed asset policy.
type Issuer struct {
	provider AssetCreator
	repo     videos.Repository
	policy   mux.AssetPolicy
	logger   *slog.Logger
	now      func() time.Time
}

func NewIssuer(provider AssetCreator, repo videos.Repository, policy mux.AssetPolicy, logger *slog.Logger) *Issuer {
	return &Issuer{
		provider: provider,
		repo:     repo,
		policy:   policy,
		logger:   logging.WithComponent(logger, "uploads"),
		now:      time.Now,
	}
}

// CreateUploadIntent asks the provider for a direct upload URL. Nothing is
// stored: the video record is created once the asset exists.
func (i *Issuer) CreateUploadIntent(ctx context.Context) (*UploadIntent, error) {
	up, err := i.provider.CreateUpload(ctx, i.policy)
	if err != nil {
		return nil, err
	}
	if up.ID == "" || up.URL == "" {
		return nil, &apperr.UpstreamError{Service: "mux", Message: "upload response missing id or url"}
	}

	i.logger.Info("upload intent created", "upload_session_id", up.ID)
	return &UploadIntent{UploadURL: up.URL, UploadSessionID: up.ID}, nil
}

// IngestFromURL has the provider pull a video from a public URL and records
// the resulting asset.
func (i *Issuer) IngestFromURL(ctx context.Context, rawURL string) (*IngestResult, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.Validation("videoUrl", "is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Validation("videoUrl", "must be an absolute http(s) URL")
	}

	asset, err := i.provider.CreateAsset(ctx, rawURL, i.policy)
	if err != nil {
		return nil, err
	}
	if asset.ID == "" {
		return nil, &apperr.UpstreamError{Service: "mux", Message: "asset response missing id"}
	}

	v, err := i.repo.UpsertAsset(ctx, videos.AssetObservation{
		AssetID:    asset.ID,
		PlaybackID: asset.PlaybackID(),
		Status:     videos.StatusUploaded,
	}, i.now())
	if err != nil {
		return nil, err
	}

	i.logger.Info("asset ingested from url", "asset_id", v.AssetID, "video_id", v.ID, "host", u.Host)
	return &IngestResult{
		AssetID:        v.AssetID,
		PlaybackID:     v.PlaybackID,
		VideoID:        v.ID,
		Status:         string(v.Status),
		ProviderStatus: asset.Status,
	}, nil
}
