package repository

import (
	"context"

	"signage/internal/domain/entity"
)

// MediaCache is the local content cache keyed by media file name.
// Existence of a non-empty file under the cache root is the cache record;
// there is no separate index.
type MediaCache interface {
	// LocalPath returns the cached file path for the item's media, and
	// whether a non-empty copy is present.
	LocalPath(item entity.PlaylistItem) (string, bool)

	// Download fetches the item's media into the cache. It is idempotent:
	// a present, non-empty file short-circuits without a network call. A
	// failed download never leaves a partial file behind.
	Download(ctx context.Context, item entity.PlaylistItem) error

	// Progress is the fraction of items with a cached copy, in [0,1].
	// An empty list is vacuously fully cached (1.0).
	Progress(items []entity.PlaylistItem) float64
}
