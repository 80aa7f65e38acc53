package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vidfriends/streamgate/internal/auth"
	"github.com/vidfriends/streamgate/internal/logging"
	"github.com/vidfriends/streamgate/internal/models"
)

const (
	defaultDashboardLimit = 2
	defaultProxyTimeout   = 30 * time.Second
)

// forwarded from the client to the upstream, and back.
var (
	proxyRequestHeaders  = []string{"Range", "If-Range", "If-None-Match", "If-Modified-Since"}
	proxyResponseHeaders = []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "ETag", "Last-Modified"}
)

// VideoHandler serves the catalog and playback endpoints.
type VideoHandler struct {
	Catalog        VideoCatalog
	Gateway        PlaybackGateway
	Limiter        RateLimiter
	DashboardLimit int
	Upstream       *http.Client
	ProxyTimeout   time.Duration
}

// Dashboard handles GET /api/v1/videos.
func (h VideoHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Catalog == nil {
		logging.FromContext(ctx).Error("video catalog unavailable")
		respondError(ctx, w, http.StatusServiceUnavailable, codeUnavailable, "video catalog unavailable")
		return
	}

	limit := h.DashboardLimit
	if limit <= 0 {
		limit = defaultDashboardLimit
	}

	list, err := h.Catalog.ListActive(ctx, limit)
	if err != nil {
		logging.FromContext(ctx).Error("list active videos failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, codeUnavailable, "unable to load videos")
		return
	}

	resp := dashboardResponse{Videos: make([]models.PublicVideo, 0, len(list))}
	for _, video := range list {
		resp.Videos = append(resp.Videos, video.Public())
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

// Details handles GET /api/v1/videos/{id}: it issues a playback token bound
// to the caller and the video.
func (h VideoHandler) Details(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.playbackPreamble(w, r)
	if !ok {
		return
	}

	ticket, err := h.Gateway.IssueToken(ctx, identity, r.PathValue("id"))
	if err != nil {
		respondPlaybackError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, ticketResponse{
		Video:         ticket.Video,
		PlaybackToken: ticket.Token,
		ExpiresIn:     int64(ticket.ExpiresIn / time.Second),
		PlayerURL:     ticket.PlayerPath,
	})
}

// Stream handles GET /api/v1/videos/{id}/stream?token=...
func (h VideoHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.playbackPreamble(w, r)
	if !ok {
		return
	}

	stream, err := h.Gateway.ResolveStream(ctx, identity, r.PathValue("id"), r.URL.Query().Get("token"))
	if err != nil {
		respondPlaybackError(ctx, w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	respondJSON(ctx, w, http.StatusOK, streamResponse{
		StreamURL: stream.StreamReference,
		VideoID:   stream.VideoID,
		Title:     stream.Title,
		ExpiresIn: int64(stream.ExpiresIn / time.Second),
	})
}

// Proxy handles GET /api/v1/videos/{id}/proxy?token=... by relaying media
// bytes from the upstream. Media elements cannot attach bearer headers, so
// the playback token alone authorises the request.
func (h VideoHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Gateway == nil {
		logger.Error("playback gateway unavailable")
		respondError(ctx, w, http.StatusServiceUnavailable, codeUnavailable, "playback unavailable")
		return
	}

	if !allowRequest(h.Limiter, r, "proxy") {
		respondError(ctx, w, http.StatusTooManyRequests, codeRateLimited, "too many requests")
		return
	}

	videoID := r.PathValue("id")
	resolution, err := h.Gateway.OpenStream(ctx, videoID, r.URL.Query().Get("token"))
	if err != nil {
		respondPlaybackError(ctx, w, err)
		return
	}

	upstreamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(upstreamCtx, http.MethodGet, resolution.URL, nil)
	if err != nil {
		logger.Error("build upstream request", "error", err, "videoId", videoID)
		respondError(ctx, w, http.StatusBadGateway, codeResolutionFailed, "stream is temporarily unavailable")
		return
	}
	for key, values := range resolution.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	for _, key := range proxyRequestHeaders {
		if v := r.Header.Get(key); v != "" {
			req.Header.Set(key, v)
		}
	}

	// The timeout covers the wait for response headers only; once bytes
	// flow the transfer lasts as long as the client keeps reading.
	timer := time.AfterFunc(h.proxyTimeout(), cancel)
	resp, err := h.client().Do(req)
	timedOut := !timer.Stop()
	if err != nil {
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("upstream timed out", "videoId", videoID)
			respondError(ctx, w, http.StatusGatewayTimeout, codeUpstreamTimeout, "upstream did not respond in time")
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Warn("upstream request failed", "error", err, "videoId", videoID)
		w.Header().Set("Retry-After", retryAfterSeconds)
		respondError(ctx, w, http.StatusBadGateway, codeResolutionFailed, "stream is temporarily unavailable")
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent, http.StatusNotModified, http.StatusRequestedRangeNotSatisfiable:
	default:
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			// The cached upstream URL has expired; the next request re-resolves.
			h.Gateway.Invalidate(ctx, videoID)
		}
		logger.Warn("upstream rejected request", "status", resp.StatusCode, "videoId", videoID)
		w.Header().Set("Retry-After", retryAfterSeconds)
		respondError(ctx, w, http.StatusBadGateway, codeResolutionFailed, "stream is temporarily unavailable")
		return
	}

	for _, key := range proxyResponseHeaders {
		if v := resp.Header.Get(key); v != "" {
			w.Header().Set(key, v)
		}
	}
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil && ctx.Err() == nil {
		logger.Warn("proxy copy interrupted", "error", err, "videoId", videoID)
	}
}

func (h VideoHandler) playbackPreamble(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	ctx := r.Context()

	if h.Gateway == nil {
		logging.FromContext(ctx).Error("playback gateway unavailable")
		respondError(ctx, w, http.StatusServiceUnavailable, codeUnavailable, "playback unavailable")
		return auth.Identity{}, false
	}

	if !allowRequest(h.Limiter, r, "playback") {
		respondError(ctx, w, http.StatusTooManyRequests, codeRateLimited, "too many requests")
		return auth.Identity{}, false
	}

	// A missing identity falls through to the gateway, which reports it as unauthenticated.
	identity, _ := auth.IdentityFromContext(ctx)
	if strings.TrimSpace(r.PathValue("id")) == "" {
		respondError(ctx, w, http.StatusBadRequest, codeInvalidRequest, "video id is required")
		return auth.Identity{}, false
	}
	return identity, true
}

func (h VideoHandler) client() *http.Client {
	if h.Upstream != nil {
		return h.Upstream
	}
	return http.DefaultClient
}

func (h VideoHandler) proxyTimeout() time.Duration {
	if h.ProxyTimeout > 0 {
		return h.ProxyTimeout
	}
	return defaultProxyTimeout
}

type dashboardResponse struct {
	Videos []models.PublicVideo `json:"videos"`
}

type ticketResponse struct {
	Video         models.PublicVideo `json:"video"`
	PlaybackToken string             `json:"playbackToken"`
	ExpiresIn     int64              `json:"expiresIn"`
	PlayerURL     string             `json:"playerUrl"`
}

type streamResponse struct {
	StreamURL string `json:"streamUrl"`
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	ExpiresIn int64  `json:"expiresIn"`
}
