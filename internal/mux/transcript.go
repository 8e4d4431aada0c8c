package mux

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vidscribe/vidscribe/internal/apperr"
)

// ErrTranscriptUnavailable means the transcript track exists but has no text
// yet.
var ErrTranscriptUnavailable = errors.New("transcript not available")

// FetchTranscript downloads the plain-text rendering of a text track from the
// public stream host.
func (c *HTTPClient) FetchTranscript(ctx context.Context, playbackID, trackID string) (string, error) {
	u := c.streamURL + "/" + url.PathEscape(playbackID) + "/text/" + url.PathEscape(trackID) + ".txt"
	defer c.metrics.ObserveUpstream(serviceName, "fetch_transcript", time.Now())

	body, err := c.retry.WithContext(ctx).Get(func() ([]byte, error) {
		return c.send(ctx, http.MethodGet, u, nil, false)
	})
	if err != nil {
		err = asUpstream(err)
		if apperr.IsNotFound(err) {
			return "", &apperr.UpstreamError{Service: serviceName, StatusCode: http.StatusNotFound, Message: "transcript track not found", Err: ErrTranscriptUnavailable}
		}
		return "", err
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", &apperr.UpstreamError{Service: serviceName, Message: "empty transcript", Err: ErrTranscriptUnavailable}
	}
	return text, nil
}

// ThumbnailURL builds the first-frame thumbnail URL for a playback id.
func ThumbnailURL(imageBase, playbackID string) string {
	if playbackID == "" {
		return ""
	}
	return strings.TrimRight(imageBase, "/") + "/" + url.PathEscape(playbackID) + "/thumbnail.jpg?time=0"
}
