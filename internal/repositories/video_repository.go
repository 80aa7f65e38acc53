package repositories

import (
	"context"

	"github.com/vidfriends/streamgate/internal/models"
)

// VideoRepository exposes the video catalog. The gateway only reads from it;
// Create is used by seeding and the catalog import command.
type VideoRepository interface {
	Get(ctx context.Context, id string) (models.Video, error)
	ListActive(ctx context.Context, limit int) ([]models.Video, error)
	Create(ctx context.Context, video models.Video) error
}
