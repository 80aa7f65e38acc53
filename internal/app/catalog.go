package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vidfriends/streamgate/internal/config"
	"github.com/vidfriends/streamgate/internal/db"
	"github.com/vidfriends/streamgate/internal/models"
	"github.com/vidfriends/streamgate/internal/repositories"
	"github.com/vidfriends/streamgate/internal/videos"
)

const catalogUsage = "usage: catalog add <sourceID> [title] | catalog list [limit]"

type catalogStore interface {
	Create(ctx context.Context, video models.Video) error
	ListActive(ctx context.Context, limit int) ([]models.Video, error)
}

func runCatalog(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New(catalogUsage)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := repositories.NewPostgresVideoRepository(pool)
	provider := videos.NewYTDLPProvider(cfg.YTDLPPath, cfg.YTDLPTimeout)
	return catalogCommand(ctx, out, provider, store, time.Now, args)
}

func catalogCommand(ctx context.Context, out io.Writer, provider videos.Provider, store catalogStore, now func() time.Time, args []string) error {
	switch args[0] {
	case "add":
		if len(args) < 2 {
			return errors.New(catalogUsage)
		}
		video, err := addCatalogEntry(ctx, provider, store, now, args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "added video %s %q\n", video.ID, video.Title)
		return nil
	case "list":
		limit := 50
		if len(args) > 1 {
			if _, err := fmt.Sscanf(args[1], "%d", &limit); err != nil || limit <= 0 {
				return fmt.Errorf("invalid limit %q", args[1])
			}
		}
		list, err := store.ListActive(ctx, limit)
		if err != nil {
			return err
		}
		for _, video := range list {
			fmt.Fprintf(out, "%s\t%s\n", video.ID, video.Title)
		}
		return nil
	default:
		return fmt.Errorf("unknown catalog command %q; %s", args[0], catalogUsage)
	}
}

// addCatalogEntry registers sourceID as a new active video. Metadata comes
// from the provider; an explicit title overrides the looked-up one and lets
// the entry be created when the lookup fails.
func addCatalogEntry(ctx context.Context, provider videos.Provider, store catalogStore, now func() time.Time, sourceID, title string) (models.Video, error) {
	sourceID = strings.TrimSpace(sourceID)
	title = strings.TrimSpace(title)
	if sourceID == "" {
		return models.Video{}, errors.New("source id must be provided")
	}

	video := models.Video{
		ID:        uuid.NewString(),
		Title:     title,
		SourceID:  sourceID,
		IsActive:  true,
		CreatedAt: now().UTC(),
	}

	meta, err := provider.Lookup(ctx, sourceID)
	switch {
	case err == nil:
		if video.Title == "" {
			video.Title = meta.Title
		}
		video.Description = meta.Description
		video.ThumbnailURL = meta.Thumbnail
	case title == "":
		return models.Video{}, fmt.Errorf("lookup metadata: %w", err)
	}

	if video.Title == "" {
		return models.Video{}, errors.New("video title is empty; pass one explicitly")
	}

	if err := store.Create(ctx, video); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return models.Video{}, fmt.Errorf("source %s is already in the catalog: %w", sourceID, err)
		}
		return models.Video{}, err
	}
	return video, nil
}
