package models

import (
	"net/http"
	"time"
)

// User represents an account allowed to request playback.
type User struct {
	ID        string
	Email     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Video is a catalog entry. SourceID is the upstream platform identifier and
// must only ever leave the server inside signed claims or resolver calls.
type Video struct {
	ID           string
	Title        string
	Description  string
	SourceID     string
	ThumbnailURL string
	IsActive     bool
	CreatedAt    time.Time
}

// PublicVideo is the client-facing projection of a Video. It intentionally has
// no field capable of carrying the source identifier.
type PublicVideo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Public returns the sanitized projection of the video.
func (v Video) Public() PublicVideo {
	return PublicVideo{
		ID:           v.ID,
		Title:        v.Title,
		Description:  v.Description,
		ThumbnailURL: v.ThumbnailURL,
		IsActive:     v.IsActive,
		CreatedAt:    v.CreatedAt,
	}
}

// Resolution is the result of turning a source identifier into something
// fetchable: the upstream media URL and the headers required to fetch it.
// It is server-internal and never serialized to clients.
type Resolution struct {
	URL     string      `json:"url"`
	Headers http.Header `json:"headers,omitempty"`
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
