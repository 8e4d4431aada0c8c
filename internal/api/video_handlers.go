package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vidscribe/vidscribe/internal/videos"
)

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vids, err := cfg.Library.List(r.Context())
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(vids))}
		for i, v := range vids {
			resp.Videos[i] = VideoToResponse(v, cfg.ImageURL)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Library.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, VideoToResponse(v, cfg.ImageURL))
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Library.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func retryEnrichmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Sweeper.RetryNow(r.Context(), id); err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, RetryResponse{VideoID: id, Status: string(videos.StatusProcessingAI)})
	}
}
