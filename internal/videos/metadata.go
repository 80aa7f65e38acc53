package videos

import (
	"context"

	"github.com/vidfriends/streamgate/internal/models"
)

// Metadata captures the descriptive fields used to populate the catalog.
type Metadata struct {
	Title       string
	Description string
	Thumbnail   string
}

// Provider returns metadata for the supplied source identifier.
type Provider interface {
	Lookup(ctx context.Context, sourceID string) (Metadata, error)
}

// Resolver turns a source identifier into a fetchable stream location. It is
// expected to be slow and to fail now and then; callers bound it with a deadline.
type Resolver interface {
	Resolve(ctx context.Context, sourceID string) (models.Resolution, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, sourceID string) (models.Resolution, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, sourceID string) (models.Resolution, error) {
	return f(ctx, sourceID)
}
