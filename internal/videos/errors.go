package videos

import "errors"

var (
	// ErrProviderUnavailable indicates the metadata provider is not configured.
	ErrProviderUnavailable = errors.New("video metadata provider unavailable")
	// ErrResolverUnavailable indicates no stream resolver is configured.
	ErrResolverUnavailable = errors.New("stream resolver unavailable")
	// ErrNoStream indicates extraction succeeded but produced nothing playable.
	ErrNoStream = errors.New("no playable stream found")
)
