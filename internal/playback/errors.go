package playback

import (
	"errors"
)

var (
	// ErrUnauthenticated indicates the request carried no valid session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrVideoUnavailable indicates the video is unknown or inactive.
	ErrVideoUnavailable = errors.New("video unavailable")
	// ErrInvalidToken indicates the playback token is malformed, expired or forged.
	ErrInvalidToken = errors.New("invalid playback token")
	// ErrTokenMismatch indicates a valid playback token bound to another user or video.
	ErrTokenMismatch = errors.New("playback token mismatch")
	// ErrResolutionFailed indicates the extraction adapter failed or timed out.
	ErrResolutionFailed = errors.New("stream resolution failed")
)

// Code is the stable, client-facing name of a gateway failure.
type Code string

const (
	CodeUnauthenticated  Code = "unauthenticated"
	CodeVideoUnavailable Code = "video_unavailable"
	CodeInvalidToken     Code = "invalid_token"
	CodeTokenMismatch    Code = "token_mismatch"
	CodeResolutionFailed Code = "resolution_failed"
	CodeInternal         Code = "internal_error"
)

// Classify maps an error returned by the Gateway to its Code.
func Classify(err error) Code {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrVideoUnavailable):
		return CodeVideoUnavailable
	case errors.Is(err, ErrInvalidToken):
		return CodeInvalidToken
	case errors.Is(err, ErrTokenMismatch):
		return CodeTokenMismatch
	case errors.Is(err, ErrResolutionFailed):
		return CodeResolutionFailed
	default:
		return CodeInternal
	}
}
