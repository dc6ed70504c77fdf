// Package fatbuild caches full build detail and decides when to reload it.
package fatbuild

import (
	"context"
	"errors"

	"buildwatch-agent/src/provider"
	"buildwatch-agent/src/store"
)

// Cache reads and writes one server's FatBuilds.
type Cache struct {
	store store.Store
	mask  uint16
}

// NewCache creates a FatBuild cache for the server identified by mask.
func NewCache(s store.Store, mask uint16) *Cache {
	return &Cache{store: s, mask: mask}
}

// Get returns the cached build, or nil when it is absent.
func (c *Cache) Get(ctx context.Context, id int64) (*provider.FatBuild, error) {
	fb, err := c.store.GetFatBuild(ctx, c.mask, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return fb, err
}

// Save stores fb unless a newer version is cached and reports whether the record changed.
func (c *Cache) Save(ctx context.Context, fb *provider.FatBuild) (bool, error) {
	return c.store.PutFatBuild(ctx, c.mask, fb)
}

// IDs lists the build ids with cached detail.
func (c *Cache) IDs(ctx context.Context) ([]int64, error) {
	return c.store.FatBuildIDs(ctx, c.mask)
}
