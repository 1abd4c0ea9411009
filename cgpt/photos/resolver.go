// Package photos resolves opaque place photo references to image URLs.
//
// Results are memoized through a harness cache so that a reference costs at
// most one network call for as long as the entry lives, and concurrent
// lookups of the same reference share one in-flight request.
package photos

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/metrics"
)

// NotFound is returned in place of a URL when a reference cannot be
// resolved. Renderers treat it as "no image".
const NotFound = "NOT_FOUND"

const defaultTTLSeconds = 86400

// Fetcher performs the single network call behind a resolution.
type Fetcher interface {
	FetchPhotoURL(ctx context.Context, photoRef string) (string, error)
}

// Resolver memoizes photo lookups process-wide.
type Resolver struct {
	fetcher    Fetcher
	cache      ports.Cache
	group      singleflight.Group
	ttlSeconds int
	logger     zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL sets how long resolutions stay cached. Zero keeps them forever.
func WithTTL(seconds int) Option {
	return func(r *Resolver) {
		if seconds >= 0 {
			r.ttlSeconds = seconds
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver wraps fetcher with cache.
func NewResolver(fetcher Fetcher, cache ports.Cache, opts ...Option) *Resolver {
	r := &Resolver{
		fetcher:    fetcher,
		cache:      cache,
		ttlSeconds: defaultTTLSeconds,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the image URL for ref, or NotFound. It never fails.
func (r *Resolver) Resolve(ctx context.Context, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || r == nil || r.fetcher == nil {
		return NotFound
	}

	key := cacheKey(ref)
	if v, ok := r.cache.Get(ctx, key); ok {
		metrics.PhotoResolutions.WithLabelValues(metrics.OutcomeHit).Inc()
		return string(v)
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if v, ok := r.cache.Get(ctx, key); ok {
			return string(v), nil
		}

		url, err := r.fetcher.FetchPhotoURL(ctx, ref)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			r.logger.Debug().Err(err).Str("photo_ref", ref).Msg("photo resolution failed")
			url = NotFound
		}
		if url == "" {
			url = NotFound
		}
		if err := r.cache.Set(ctx, key, []byte(url), r.ttlSeconds); err != nil {
			r.logger.Warn().Err(err).Msg("failed to cache photo url")
		}
		return url, nil
	})
	if err != nil {
		metrics.PhotoResolutions.WithLabelValues(metrics.OutcomeError).Inc()
		return NotFound
	}

	url := v.(string)
	if url == NotFound {
		metrics.PhotoResolutions.WithLabelValues(metrics.OutcomeNotFound).Inc()
	} else {
		metrics.PhotoResolutions.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	return url
}

// Forget drops the cached resolution for ref.
func (r *Resolver) Forget(ctx context.Context, ref string) error {
	return r.cache.Delete(ctx, cacheKey(strings.TrimSpace(ref)))
}

func cacheKey(ref string) string {
	return "photo:" + strconv.FormatUint(xxhash.ChecksumString64(ref), 16)
}

// IsNotFound reports whether url is the NotFound sentinel or empty.
func IsNotFound(url string) bool {
	return url == "" || url == NotFound
}
