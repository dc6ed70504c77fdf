// Package buildref caches the lightweight build index of each CI server.
package buildref

import (
	"context"
	"errors"
	"fmt"

	"buildwatch-agent/src/cachekey"
	"buildwatch-agent/src/provider"
	"buildwatch-agent/src/store"
)

// Cache reads and writes one server's BuildRefs.
type Cache struct {
	store         store.Store
	mask          uint16
	defaultBranch string
}

// NewCache creates a BuildRef cache for the server identified by mask.
// defaultBranch is the canonical name provider.DefaultBranch resolves to.
func NewCache(s store.Store, mask uint16, defaultBranch string) *Cache {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return &Cache{store: s, mask: mask, defaultBranch: defaultBranch}
}

// Mask returns the server mask this cache is bound to.
func (c *Cache) Mask() uint16 {
	return c.mask
}

// BranchForQuery maps the default-branch token to the server's canonical branch name.
func (c *Cache) BranchForQuery(branch string) string {
	if branch == provider.DefaultBranch {
		return c.defaultBranch
	}
	return branch
}

// SaveChunk stores a page of refs and returns the composite keys that changed.
// Duplicate ids within the chunk collapse to their last occurrence.
func (c *Cache) SaveChunk(ctx context.Context, refs []provider.BuildRef) ([]int64, error) {
	if len(refs) == 0 {
		return []int64{}, nil
	}

	pos := make(map[int64]int, len(refs))
	normalized := make([]provider.BuildRef, 0, len(refs))
	for _, ref := range refs {
		ref.Branch = c.BranchForQuery(ref.Branch)
		if i, dup := pos[ref.ID]; dup {
			normalized[i] = ref
			continue
		}
		pos[ref.ID] = len(normalized)
		normalized = append(normalized, ref)
	}

	keys, err := c.store.SaveBuildRefs(ctx, c.mask, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to save build ref chunk: %w", err)
	}
	return keys, nil
}

// Save upserts a single ref and reports whether it changed.
func (c *Cache) Save(ctx context.Context, ref provider.BuildRef) (bool, error) {
	keys, err := c.SaveChunk(ctx, []provider.BuildRef{ref})
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// Get returns the cached ref, or nil when it is absent.
func (c *Cache) Get(ctx context.Context, id int64) (*provider.BuildRef, error) {
	ref, err := c.store.GetBuildRef(ctx, c.mask, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return ref, err
}

// FindBuildsInHistory returns refs for a build type and branch, newest first.
// Empty arguments match any value.
func (c *Cache) FindBuildsInHistory(ctx context.Context, buildTypeID, branch string) ([]provider.BuildRef, error) {
	refs, err := c.store.FindBuildRefs(ctx, c.mask, store.Filter{
		BuildTypeID: buildTypeID,
		Branch:      c.BranchForQuery(branch),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find builds in history: %w", err)
	}
	return refs, nil
}

// GetQueuedAndRunning returns refs that have not finished yet, newest first.
func (c *Cache) GetQueuedAndRunning(ctx context.Context) ([]provider.BuildRef, error) {
	refs, err := c.store.FindBuildRefs(ctx, c.mask, store.Filter{
		States: []provider.BuildState{provider.StateQueued, provider.StateRunning},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find queued and running builds: %w", err)
	}
	return refs, nil
}

// All returns every cached ref of the server, newest first.
func (c *Cache) All(ctx context.Context) ([]provider.BuildRef, error) {
	return c.store.FindBuildRefs(ctx, c.mask, store.Filter{})
}

// KeysToBuildIDs strips the server mask from composite keys.
func KeysToBuildIDs(keys []int64) []int64 {
	ids := make([]int64, len(keys))
	for i, k := range keys {
		ids[i] = cachekey.ID(k)
	}
	return ids
}
