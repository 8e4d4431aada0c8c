package mux

import (
	"context"
	"net/http"
	"net/url"
)

// Upload statuses reported by the direct upload API.
const (
	UploadWaiting      = "waiting"
	UploadAssetCreated = "asset_created"
	UploadErrored      = "errored"
	UploadCancelled    = "cancelled"
	UploadTimedOut     = "timed_out"
)

// AssetPolicy is the fixed set of options applied to every new asset.
type AssetPolicy struct {
	PlaybackPolicy string
	VideoQuality   string
	LanguageCode   string
	SubtitleName   string
	CORSOrigin     string
}

func DefaultAssetPolicy() AssetPolicy {
	return AssetPolicy{
		PlaybackPolicy: "public",
		VideoQuality:   "basic",
		LanguageCode:   "en",
		SubtitleName:   "English CC",
		CORSOrigin:     "*",
	}
}

type Upload struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	ErrorMessage string `json:"-"`
}

type PlaybackID struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

type Track struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	TextSource   string `json:"text_source"`
	LanguageCode string `json:"language_code"`
	Status       string `json:"status"`
}

type Asset struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	PlaybackIDs []PlaybackID `json:"playback_ids"`
	Tracks      []Track      `json:"tracks"`
}

// PlaybackID returns the first public playback id, or the first id of any
// policy when none is public.
func (a *Asset) PlaybackID() string {
	for _, p := range a.PlaybackIDs {
		if p.Policy == "public" && p.ID != "" {
			return p.ID
		}
	}
	if len(a.PlaybackIDs) > 0 {
		return a.PlaybackIDs[0].ID
	}
	return ""
}

type generatedSubtitle struct {
	LanguageCode string `json:"language_code"`
	Name         string `json:"name"`
}

type assetInput struct {
	URL                string              `json:"url,omitempty"`
	GeneratedSubtitles []generatedSubtitle `json:"generated_subtitles,omitempty"`
}

type assetSettings struct {
	Inputs           []assetInput `json:"inputs"`
	PlaybackPolicies []string     `json:"playback_policies"`
	VideoQuality     string       `json:"video_quality"`
}

type createUploadRequest struct {
	NewAssetSettings assetSettings `json:"new_asset_settings"`
	CORSOrigin       string        `json:"cors_origin"`
}

type uploadResponse struct {
	Upload
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p AssetPolicy) settings(inputURL string) assetSettings {
	return assetSettings{
		Inputs: []assetInput{{
			URL: inputURL,
			GeneratedSubtitles: []generatedSubtitle{{
				LanguageCode: p.LanguageCode,
				Name:         p.SubtitleName,
			}},
		}},
		PlaybackPolicies: []string{p.PlaybackPolicy},
		VideoQuality:     p.VideoQuality,
	}
}

// CreateUpload requests a direct upload URL for a new asset.
func (c *HTTPClient) CreateUpload(ctx context.Context, policy AssetPolicy) (*Upload, error) {
	req := createUploadRequest{
		NewAssetSettings: policy.settings(""),
		CORSOrigin:       policy.CORSOrigin,
	}

	var resp envelope[uploadResponse]
	if err := c.doJSON(ctx, "create_upload", http.MethodPost, "/video/v1/uploads", req, &resp); err != nil {
		return nil, err
	}
	c.logger.Info("mux upload created", "upload_id", resp.Data.ID)
	return resp.Data.upload(), nil
}

func (c *HTTPClient) GetUpload(ctx context.Context, uploadID string) (*Upload, error) {
	var resp envelope[uploadResponse]
	if err := c.doJSON(ctx, "get_upload", http.MethodGet, "/video/v1/uploads/"+url.PathEscape(uploadID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.upload(), nil
}

func (r uploadResponse) upload() *Upload {
	u := r.Upload
	if r.Error != nil {
		u.ErrorMessage = r.Error.Message
	}
	return &u
}

func (c *HTTPClient) GetAsset(ctx context.Context, assetID string) (*Asset, error) {
	var resp envelope[Asset]
	if err := c.doJSON(ctx, "get_asset", http.MethodGet, "/video/v1/assets/"+url.PathEscape(assetID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// CreateAsset ingests a video directly from a public URL.
func (c *HTTPClient) CreateAsset(ctx context.Context, inputURL string, policy AssetPolicy) (*Asset, error) {
	var resp envelope[Asset]
	if err := c.doJSON(ctx, "create_asset", http.MethodPost, "/video/v1/assets", policy.settings(inputURL), &resp); err != nil {
		return nil, err
	}
	c.logger.Info("mux asset created", "asset_id", resp.Data.ID)
	return &resp.Data, nil
}

// DeleteAsset removes an asset. A missing asset is reported as
// *apperr.NotFoundError.
func (c *HTTPClient) DeleteAsset(ctx context.Context, assetID string) error {
	return c.doJSON(ctx, "delete_asset", http.MethodDelete, "/video/v1/assets/"+url.PathEscape(assetID), nil, nil)
}
