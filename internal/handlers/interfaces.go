package handlers

import (
	"context"

	"github.com/vidfriends/streamgate/internal/auth"
	"github.com/vidfriends/streamgate/internal/models"
	"github.com/vidfriends/streamgate/internal/playback"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// SessionManager issues, refreshes and revokes authentication tokens for users.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Revoke(ctx context.Context, refreshToken string)
}

// Authenticator turns a bearer credential into the calling identity.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (auth.Identity, error)
}

// VideoCatalog lists playable videos for the dashboard.
type VideoCatalog interface {
	ListActive(ctx context.Context, limit int) ([]models.Video, error)
}

// PlaybackGateway grants and redeems playback tokens.
type PlaybackGateway interface {
	IssueToken(ctx context.Context, identity auth.Identity, videoID string) (playback.Ticket, error)
	ResolveStream(ctx context.Context, identity auth.Identity, videoID, token string) (playback.Stream, error)
	OpenStream(ctx context.Context, videoID, token string) (models.Resolution, error)
	Invalidate(ctx context.Context, videoID string)
}
