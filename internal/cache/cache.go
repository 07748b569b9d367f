package cache

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"image-transformer/internal/model"
)

const (
	// DefaultTTL is how long a cached result stays valid.
	DefaultTTL = time.Hour
	// DefaultCapacity bounds how many results a cache holds at once.
	DefaultCapacity = 1000

	keyPrefix = "img_"
)

// Cache stores paths of already-produced transformation results, keyed by
// image id and canonical spec. Implementations degrade gracefully: callers
// treat any error as a cache miss and recompute.
type Cache interface {
	// Get returns the stored value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores a value. A non-positive ttl means DefaultTTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes a single entry.
	Delete(ctx context.Context, key string) error
	// DeleteByImage removes every entry belonging to an image and
	// returns how many were dropped.
	DeleteByImage(ctx context.Context, imageID string) (int, error)
	// Stats reports hit/miss counters and the live entry count.
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Keys      int    `json:"keys"`
}

// KeyFor derives the cache key for one transformation of one image. The
// spec part is the base64 of its canonical JSON, so any two requests for
// the same edits share a key no matter how the client ordered the fields.
func KeyFor(imageID string, spec model.TransformationSpec) (string, error) {
	canonical, err := spec.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("canonicalize spec: %w", err)
	}
	return keyPrefix + imageID + "_" + base64.StdEncoding.EncodeToString(canonical), nil
}

// imagePrefix is the common prefix of every key derived for an image.
func imagePrefix(imageID string) string {
	return keyPrefix + imageID + "_"
}
