package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vidscribe/vidscribe/internal/apperr"
	"github.com/vidscribe/vidscribe/internal/logging"
)

// maxBodyBytes bounds JSON request bodies, webhooks included.
const maxBodyBytes = 1 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	r.Get("/health", healthHandler(cfg))
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	r.Post("/notifications", notificationsHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APIToken, cfg.Logger))

		r.Post("/upload-intent", uploadIntentHandler(cfg))
		r.Post("/check-upload", checkUploadHandler(cfg))
		r.Post("/assets", createAssetHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Get("/videos/{id}", getVideoHandler(cfg))
		r.Delete("/videos/{id}", deleteVideoHandler(cfg))
		r.Post("/videos/{id}/retry-enrichment", retryEnrichmentHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			Database: "ok",
		}
		status := http.StatusOK

		if cfg.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.DB.PingContext(ctx); err != nil {
				cfg.Logger.Error("database ping failed", "error", err)
				resp.Status = "degraded"
				resp.Database = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}

		WriteJSON(w, status, resp)
	}
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are allowed.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("body", "request body is required")
		}
		return apperr.Validation("body", "malformed JSON: "+err.Error())
	}
	return nil
}

// writeAppError maps the apperr taxonomy onto HTTP. Anything unclassified is
// logged and reported as an internal error.
func writeAppError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		validation *apperr.ValidationError
		notFound   *apperr.NotFoundError
		upstream   *apperr.UpstreamError
		conflict   *apperr.ConflictError
	)

	switch {
	case errors.As(err, &validation):
		WriteError(w, http.StatusBadRequest, validation.Error(), CodeBadRequest)
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, notFound.Error(), CodeNotFound)
	case errors.As(err, &conflict):
		WriteError(w, http.StatusConflict, conflict.Error(), CodeConflict)
	case errors.As(err, &upstream):
		requestLogger(logger, r).Warn("upstream request failed",
			"service", upstream.Service,
			"status_code", upstream.StatusCode,
			"error", err,
		)
		WriteError(w, http.StatusBadGateway, upstream.Error(), CodeUpstream)
	default:
		requestLogger(logger, r).Error("request failed", "path", r.URL.Path, "error", err)
		WriteError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
	}
}

func requestLogger(logger *slog.Logger, r *http.Request) *slog.Logger {
	return logging.WithRequestID(logger, requestID(r))
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(RequestIDKey).(string)
	return id
}
