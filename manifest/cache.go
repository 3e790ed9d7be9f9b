package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-dispatch/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const manifestCacheKeyPrefix = "go-dispatch::manifest::v1"

// CachedResolver memoizes resolved manifests keyed by the manifest inputs,
// so a changed mode or JSON document always resolves fresh.
type CachedResolver struct {
	base  Resolver
	cache repositorycache.CacheService
}

func NewCachedResolver(base Resolver, cacheService repositorycache.CacheService) (*CachedResolver, error) {
	if base == nil {
		base = DefaultResolver
	}
	if cacheService == nil {
		return nil, fmt.Errorf("manifest: cache service is required")
	}
	return &CachedResolver{base: base, cache: cacheService}, nil
}

// CacheKey returns go-dispatch::manifest::v1::<mode>::<sha256(routes \x00 schedules)>.
func CacheKey(cfg core.ManifestConfig) string {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = core.ManifestModeLegacy
	}
	sum := sha256.Sum256([]byte(cfg.RoutesJSON + "\x00" + cfg.SchedulesJSON))
	return strings.Join([]string{manifestCacheKeyPrefix, mode, hex.EncodeToString(sum[:])}, "::")
}

func (r *CachedResolver) Resolve(ctx context.Context, cfg core.Config) (Manifest, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return Manifest{}, fmt.Errorf("manifest: cached resolver is not configured")
	}
	resolved, err := repositorycache.GetOrFetch(ctx, r.cache, CacheKey(cfg.Manifest), func(ctx context.Context) (Manifest, error) {
		return r.base.Resolve(ctx, cfg)
	})
	if err != nil {
		return Manifest{}, err
	}
	return resolved.Clone(), nil
}

// Invalidate drops the cached entry for cfg.
func (r *CachedResolver) Invalidate(ctx context.Context, cfg core.Config) error {
	if r == nil || r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, CacheKey(cfg.Manifest))
}

var _ Resolver = (*CachedResolver)(nil)
