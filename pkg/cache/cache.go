// Package cache stores the most recent rendered artifact per document.
//
// Backends share the [Cache] interface and are picked by URL with [Open]:
//
//	""  or file:///path   FileCache under the given (or default) directory
//	redis://host:6379/0   RedisCache, shared between preview servers
//	mongodb://host/db     MongoCache, a document collection with a TTL index
//	none://               NullCache, caching disabled
//
// Each document has exactly one key ([Keyer.ArtifactKey]), so a new render
// overwrites the previous artifact instead of versioning it.
package cache

import (
	"context"
	"net/url"
	"time"

	"github.com/matzehuels/lilyview/pkg/errors"
)

// Cache is a byte store with optional expiry.
type Cache interface {
	// Get returns the stored value and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value. A zero ttl never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Clearer is implemented by caches that can drop every entry they own.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Open returns the backend selected by rawURL. An empty URL opens a
// FileCache in defaultDir.
func Open(ctx context.Context, rawURL, defaultDir string) (Cache, error) {
	if rawURL == "" {
		return NewFileCache(defaultDir)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse cache url")
	}
	switch u.Scheme {
	case "file":
		dir := u.Path
		if dir == "" {
			dir = defaultDir
		}
		return NewFileCache(dir)
	case "redis", "rediss":
		return NewRedisCache(ctx, rawURL)
	case "mongodb", "mongodb+srv":
		return NewMongoCache(ctx, rawURL)
	case "none":
		return NewNullCache(), nil
	default:
		return nil, errors.New(errors.ErrCodeInvalidConfig, "unsupported cache url scheme %q", u.Scheme)
	}
}
