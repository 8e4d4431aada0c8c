package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/vidscribe/vidscribe/internal/ingest"
	"github.com/vidscribe/vidscribe/internal/mux"
)

func uploadIntentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intent, err := cfg.Issuer.CreateUploadIntent(r.Context())
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, UploadIntentResponse{
			UploadURL:       intent.UploadURL,
			UploadSessionID: intent.UploadSessionID,
		})
	}
}

func checkUploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckUploadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		var (
			res *ingest.CheckResult
			err error
		)
		if req.Wait {
			res, err = cfg.Discovery.AwaitUpload(r.Context(), req.UploadSessionID)
		} else {
			res, err = cfg.Discovery.CheckUpload(r.Context(), req.UploadSessionID)
		}
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, CheckResultToResponse(res))
	}
}

// notificationsHandler acknowledges provider webhooks. It answers 2xx only
// once the event has been applied, so a failed store write is redelivered.
func notificationsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "notification body too large", CodeBadRequest)
				return
			}
			WriteError(w, http.StatusBadRequest, "failed to read body", CodeBadRequest)
			return
		}

		if cfg.WebhookSecret != "" {
			if err := mux.VerifySignature(body, r.Header.Get(mux.SignatureHeader), cfg.WebhookSecret, cfg.Now()); err != nil {
				requestLogger(cfg.Logger, r).Warn("rejected notification", "error", err)
				WriteError(w, http.StatusUnauthorized, err.Error(), CodeUnauthorized)
				return
			}
		}

		n, err := ingest.ParseNotification(body)
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		if err := cfg.Router.HandleNotification(r.Context(), n); err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, NotificationResponse{Received: true})
	}
}

func createAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAssetRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		res, err := cfg.Issuer.IngestFromURL(r.Context(), req.VideoURL)
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusCreated, CreateAssetResponse{
			AssetID:        res.AssetID,
			PlaybackID:     res.PlaybackID,
			VideoID:        res.VideoID,
			Status:         res.Status,
			ProviderStatus: res.ProviderStatus,
		})
	}
}
