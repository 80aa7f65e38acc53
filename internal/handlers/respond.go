package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vidfriends/streamgate/internal/logging"
	"github.com/vidfriends/streamgate/internal/playback"
)

const (
	codeInvalidRequest     = "invalid_request"
	codeInvalidCredentials = "invalid_credentials"
	codeConflict           = "conflict"
	codeRateLimited        = "rate_limited"
	codeUpstreamTimeout    = "upstream_timeout"
	codeUnavailable        = "service_unavailable"

	codeUnauthenticated  = string(playback.CodeUnauthenticated)
	codeResolutionFailed = string(playback.CodeResolutionFailed)
)

// retryAfterSeconds is advertised with resolution failures.
const retryAfterSeconds = "5"

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	respondJSON(ctx, w, status, errorResponse{Error: code, Message: message})
}

var playbackErrors = map[playback.Code]struct {
	status  int
	message string
}{
	playback.CodeUnauthenticated:  {http.StatusUnauthorized, "authentication required"},
	playback.CodeVideoUnavailable: {http.StatusNotFound, "video is not available"},
	playback.CodeInvalidToken:     {http.StatusUnauthorized, "playback token is invalid or expired"},
	playback.CodeTokenMismatch:    {http.StatusForbidden, "playback token does not grant access to this video"},
	playback.CodeResolutionFailed: {http.StatusBadGateway, "stream is temporarily unavailable"},
	playback.CodeInternal:         {http.StatusInternalServerError, "internal error"},
}

// respondPlaybackError writes the client-facing form of a gateway error. The
// error text itself is never included.
func respondPlaybackError(ctx context.Context, w http.ResponseWriter, err error) {
	code := playback.Classify(err)
	mapped := playbackErrors[code]
	if code == playback.CodeResolutionFailed {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	respondError(ctx, w, mapped.status, string(code), mapped.message)
}
