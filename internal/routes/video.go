package routes

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/coah80/reelsave/internal/alerts"
	"github.com/coah80/reelsave/internal/metrics"
	"github.com/coah80/reelsave/internal/services"
	"github.com/coah80/reelsave/internal/util"
)

const maxFetchBodyBytes = 16 * 1024

type VideoHandler struct {
	Store    *services.TokenStore
	Resolver services.Resolver
	Proxy    *services.DownloadProxy
}

func VideoRoutes(r chi.Router, h *VideoHandler) {
	r.Post("/api/fetch-video", h.handleFetchVideo)
	r.Get("/api/download-video", h.handleDownloadVideo)
}

type fetchVideoRequest struct {
	URL string `json:"url"`
}

type videoMetadata struct {
	URL         string  `json:"url"`
	Thumbnail   string  `json:"thumbnail,omitempty"`
	Title       string  `json:"title,omitempty"`
	Username    string  `json:"username,omitempty"`
	DownloadURL string  `json:"downloadUrl"`
	Type        string  `json:"type,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
}

func downloadPath(token string) string {
	return "/api/download-video?token=" + url.QueryEscape(token)
}

func (h *VideoHandler) handleFetchVideo(w http.ResponseWriter, r *http.Request) {
	var body fetchVideoRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFetchBodyBytes)).Decode(&body); err != nil {
		metrics.RecordFetch(string(util.InvalidInput))
		respondError(w, util.NewInvalidInput(""))
		return
	}

	check := util.ValidateSourceURL(body.URL)
	if !check.Valid {
		metrics.RecordFetch(string(util.InvalidInput))
		respondError(w, util.NewInvalidInput(check.Error))
		return
	}

	res, err := h.Resolver.Resolve(r.Context(), body.URL)
	if err != nil {
		log.Printf("[Fetch] Resolve failed for %s: %v", body.URL, err)
		appErr := util.ClassifyResolveError(err)
		if appErr.Kind == util.UpstreamUnavailable {
			alerts.ResolverBlocked(body.URL, err)
		}
		metrics.RecordFetch(string(appErr.Kind))
		respondError(w, appErr)
		return
	}
	if res == nil || res.MediaURL == "" {
		metrics.RecordFetch(string(util.NotFound))
		respondError(w, util.ErrVideoUnavailable)
		return
	}

	token := services.NewToken()
	h.Store.Put(token, res.MediaURL)
	log.Printf("[Fetch] Issued token %s... for %s", shortToken(token), body.URL)
	metrics.RecordFetch("ok")

	respondJSON(w, http.StatusOK, videoMetadata{
		URL:         body.URL,
		Thumbnail:   res.Thumbnail,
		Title:       res.Title,
		Username:    util.ExtractUsername(body.URL),
		DownloadURL: downloadPath(token),
		Type:        util.DetectPostType(body.URL),
		Duration:    res.Duration,
	})
}

func (h *VideoHandler) handleDownloadVideo(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	resp, appErr := h.Proxy.Open(r.Context(), token)
	if appErr != nil {
		metrics.RecordDownload(string(appErr.Kind), 0)
		respondError(w, appErr)
		return
	}

	written, committed, err := h.Proxy.Stream(w, resp)
	if err == nil {
		metrics.RecordDownload("ok", written)
		log.Printf("[Download] %s... streamed %d bytes", shortToken(token), written)
		return
	}

	if !committed {
		log.Printf("[Download] %s... failed before first byte: %v", shortToken(token), err)
		metrics.RecordDownload(string(util.Unexpected), 0)
		respondError(w, util.NewDownloadError())
		return
	}

	// Part of the body is already on the wire; abort so the client sees a
	// truncated transfer instead of a clean end.
	log.Printf("[Download] %s... truncated after %d bytes: %v", shortToken(token), written, err)
	metrics.RecordDownload("truncated", written)
	if r.Context().Err() != nil {
		return
	}
	panic(http.ErrAbortHandler)
}
