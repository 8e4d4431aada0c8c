package videos

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vidscribe/vidscribe/internal/apperr"
)

// AssetDeleter removes an asset on the hosting provider. Implementations
// report an already-deleted asset as an apperr.NotFoundError.
type AssetDeleter interface {
	DeleteAsset(ctx context.Context, assetID string) error
}

type Library interface {
	List(ctx context.Context) ([]*Video, error)
	Get(ctx context.Context, id string) (*Video, error)
	Delete(ctx context.Context, id string) error
}

// Service is the read and delete surface over stored videos.
type Service struct {
	repo     Repository
	provider AssetDeleter
	logger   *slog.Logger
}

func NewService(repo Repository, provider AssetDeleter, logger *slog.Logger) *Service {
	return &Service{repo: repo, provider: provider, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]*Video, error) {
	vids, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	if vids == nil {
		vids = []*Video{}
	}
	return vids, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Video, error) {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	if v == nil {
		return nil, apperr.NotFound("video", id)
	}
	return v, nil
}

// Delete removes the provider asset and then the local record. An asset that
// is already gone on the provider side does not block the local delete.
func (s *Service) Delete(ctx context.Context, id string) error {
	v, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if s.provider != nil {
		err := s.provider.DeleteAsset(ctx, v.AssetID)
		switch {
		case err == nil:
		case apperr.IsNotFound(err):
			if s.logger != nil {
				s.logger.Info("provider asset already deleted", "asset_id", v.AssetID)
			}
		default:
			return fmt.Errorf("delete provider asset: %w", err)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete video: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("video deleted", "video_id", id, "asset_id", v.AssetID)
	}
	return nil
}
