package api

import (
	"time"

	"github.com/vidscribe/vidscribe/internal/ingest"
	"github.com/vidscribe/vidscribe/internal/mux"
	"github.com/vidscribe/vidscribe/internal/videos"
)

const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeNotFound     = "NOT_FOUND"
	CodeUpstream     = "UPSTREAM_ERROR"
	CodeConflict     = "CONFLICT"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL_ERROR"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	Database string `json:"database"`
}

type UploadIntentResponse struct {
	UploadURL       string `json:"uploadUrl"`
	UploadSessionID string `json:"uploadSessionId"`
}

type CheckUploadRequest struct {
	UploadSessionID string `json:"uploadSessionId"`
	Wait            bool   `json:"wait,omitempty"`
}

// CheckUploadResponse always carries assetId, as null until the asset exists.
type CheckUploadResponse struct {
	AssetID *string `json:"assetId"`
	Status  string  `json:"status"`
	Message string  `json:"message,omitempty"`
	VideoID string  `json:"videoId,omitempty"`
}

type NotificationResponse struct {
	Received bool `json:"received"`
}

type CreateAssetRequest struct {
	VideoURL string `json:"videoUrl"`
}

type CreateAssetResponse struct {
	AssetID        string `json:"assetId"`
	PlaybackID     string `json:"playbackId,omitempty"`
	VideoID        string `json:"videoId"`
	Status         string `json:"status"`
	ProviderStatus string `json:"providerStatus,omitempty"`
}

type RetryResponse struct {
	VideoID string `json:"videoId"`
	Status  string `json:"status"`
}

type VideoResponse struct {
	ID                 string `json:"id"`
	UploadSessionID    string `json:"uploadSessionId,omitempty"`
	AssetID            string `json:"assetId"`
	PlaybackID         string `json:"playbackId,omitempty"`
	Status             string `json:"status"`
	Transcript         string `json:"transcript,omitempty"`
	Summary            string `json:"summary,omitempty"`
	Description        string `json:"description,omitempty"`
	ThumbnailURL       string `json:"thumbnailUrl,omitempty"`
	EnrichmentAttempts int    `json:"enrichmentAttempts"`
	LastError          string `json:"lastError,omitempty"`
	CreatedAt          string `json:"createdAt"`
	UpdatedAt          string `json:"updatedAt"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// VideoToResponse projects a stored video. The thumbnail is derived from the
// playback id and is omitted until one is known.
func VideoToResponse(v *videos.Video, imageURL string) VideoResponse {
	resp := VideoResponse{
		ID:                 v.ID,
		UploadSessionID:    v.UploadSessionID,
		AssetID:            v.AssetID,
		PlaybackID:         v.PlaybackID,
		Status:             string(v.Status),
		Transcript:         v.Transcript,
		Summary:            v.Summary,
		Description:        v.Description,
		EnrichmentAttempts: v.EnrichmentAttempts,
		LastError:          v.LastError,
		CreatedAt:          v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          v.UpdatedAt.Format(time.RFC3339),
	}
	if v.PlaybackID != "" {
		resp.ThumbnailURL = mux.ThumbnailURL(imageURL, v.PlaybackID)
	}
	return resp
}

func CheckResultToResponse(c *ingest.CheckResult) CheckUploadResponse {
	resp := CheckUploadResponse{Status: c.Status, Message: c.Message, VideoID: c.VideoID}
	if c.Ready() {
		id := c.AssetID
		resp.AssetID = &id
	}
	return resp
}
