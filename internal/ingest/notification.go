package ingest

import (
	"encoding/json"
	"strings"

	"github.com/vidscribe/vidscribe/internal/apperr"
)

// Provider event types. The short forms are accepted for manual tooling and
// older webhook relays.
const (
	EventUploadAssetCreated = "video.upload.asset_created"
	EventAssetCreated       = "video.asset.created"
	EventAssetReady         = "video.asset.ready"
	EventTrackReady         = "video.asset.track.ready"
	EventAssetErrored       = "video.asset.errored"

	shortAssetCreated = "asset-created"
	shortAssetReady   = "asset-ready"
	shortTrackReady   = "asset.track.ready"
	shortAssetErrored = "asset-errored"
)

// TextSourceGeneratedVOD marks a transcript track generated from the asset
// audio.
const TextSourceGeneratedVOD = "generated_vod"

// Notification is a parsed provider event. The set of implementations is
// closed: AssetCreated, AssetReady, TrackReady, AssetErrored, Unrecognized.
type Notification interface {
	// Kind is a stable short name used for logs and metrics.
	Kind() string
	notification()
}

type AssetCreated struct {
	AssetID    string
	UploadID   string
	PlaybackID string
}

type AssetReady struct {
	AssetID    string
	UploadID   string
	PlaybackID string
}

type TrackReady struct {
	AssetID    string
	TrackID    string
	TrackType  string
	TextSource string
}

type AssetErrored struct {
	AssetID string
	Message string
}

type Unrecognized struct {
	Type string
}

func (AssetCreated) Kind() string { return "asset-created" }
func (AssetReady) Kind() string   { return "asset-ready" }
func (TrackReady) Kind() string   { return "track-ready" }
func (AssetErrored) Kind() string { return "asset-errored" }
func (Unrecognized) Kind() string { return "unrecognized" }

func (AssetCreated) notification() {}
func (AssetReady) notification()   {}
func (TrackReady) notification()   {}
func (AssetErrored) notification() {}
func (Unrecognized) notification() {}

// Transcript reports whether the track is a generated text transcript, the
// only kind that triggers enrichment.
func (t TrackReady) Transcript() bool {
	if t.TrackType != "" && t.TrackType != "text" {
		return false
	}
	return t.TextSource == TextSourceGeneratedVOD
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type eventData struct {
	ID          string `json:"id"`
	AssetID     string `json:"asset_id"`
	UploadID    string `json:"upload_id"`
	Type        string `json:"type"`
	TextSource  string `json:"text_source"`
	PlaybackIDs []struct {
		ID string `json:"id"`
	} `json:"playback_ids"`
	Errors *struct {
		Type     string   `json:"type"`
		Messages []string `json:"messages"`
	} `json:"errors"`
}

func (d eventData) playbackID() string {
	if len(d.PlaybackIDs) > 0 {
		return d.PlaybackIDs[0].ID
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParseNotification decodes a webhook body. Malformed JSON and a missing
// type are validation errors; unknown types decode to Unrecognized. Data of
// an unexpected shape decodes to an event without ids, which the router
// acknowledges and ignores.
func ParseNotification(body []byte) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperr.Validation("body", "malformed JSON: "+err.Error())
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, apperr.Validation("type", "is required")
	}

	switch env.Type {
	case EventUploadAssetCreated, EventAssetCreated, shortAssetCreated,
		EventAssetReady, shortAssetReady,
		EventTrackReady, shortTrackReady,
		EventAssetErrored, shortAssetErrored:
	default:
		return Unrecognized{Type: env.Type}, nil
	}

	var d eventData
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &d); err != nil {
			d = eventData{}
		}
	}

	switch env.Type {
	case EventUploadAssetCreated:
		// data is the upload object; its id is the upload session.
		return AssetCreated{
			AssetID:  d.AssetID,
			UploadID: firstNonEmpty(d.UploadID, d.ID),
		}, nil
	case EventAssetCreated, shortAssetCreated:
		return AssetCreated{
			AssetID:    firstNonEmpty(d.AssetID, d.ID),
			UploadID:   d.UploadID,
			PlaybackID: d.playbackID(),
		}, nil
	case EventAssetReady, shortAssetReady:
		return AssetReady{
			AssetID:    firstNonEmpty(d.ID, d.AssetID),
			UploadID:   d.UploadID,
			PlaybackID: d.playbackID(),
		}, nil
	case EventTrackReady, shortTrackReady:
		return TrackReady{
			AssetID:    d.AssetID,
			TrackID:    d.ID,
			TrackType:  d.Type,
			TextSource: d.TextSource,
		}, nil
	default:
		msg := ""
		if d.Errors != nil {
			msg = firstNonEmpty(strings.Join(d.Errors.Messages, "; "), d.Errors.Type)
		}
		return AssetErrored{
			AssetID: firstNonEmpty(d.ID, d.AssetID),
			Message: msg,
		}, nil
	}
}
