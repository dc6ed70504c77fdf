package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"buildwatch-agent/src/cachekey"
	"buildwatch-agent/src/provider"
)

type fatRecord struct {
	version int
	payload []byte
}

// MemoryStore is an in-memory implementation of Store.
// Useful for testing and single-process runs.
type MemoryStore struct {
	mu   sync.RWMutex
	refs map[int64]provider.BuildRef
	fat  map[int64]fatRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		refs: make(map[int64]provider.BuildRef),
		fat:  make(map[int64]fatRecord),
	}
}

// SaveBuildRefs writes changed refs and returns their keys.
func (s *MemoryStore) SaveBuildRefs(ctx context.Context, mask uint16, refs []provider.BuildRef) ([]int64, error) {
	keys := make([]int64, 0, len(refs))
	for _, ref := range refs {
		key, err := cachekey.Compose(mask, ref.ID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	written := make(map[int64]struct{})
	for i, ref := range refs {
		if existing, ok := s.refs[keys[i]]; ok && existing == ref {
			continue
		}
		s.refs[keys[i]] = ref
		written[keys[i]] = struct{}{}
	}

	return sortedKeys(written), nil
}

// GetBuildRef returns a cached ref.
func (s *MemoryStore) GetBuildRef(ctx context.Context, mask uint16, id int64) (*provider.BuildRef, error) {
	key, err := cachekey.Compose(mask, id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.refs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &ref, nil
}

// FindBuildRefs scans one server's refs.
func (s *MemoryStore) FindBuildRefs(ctx context.Context, mask uint16, filter Filter) ([]provider.BuildRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []provider.BuildRef
	for key, ref := range s.refs {
		if m, _ := cachekey.Split(key); m != mask {
			continue
		}
		if filter.Matches(ref) {
			result = append(result, ref)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

// GetFatBuild returns a decoded copy of the cached build.
func (s *MemoryStore) GetFatBuild(ctx context.Context, mask uint16, id int64) (*provider.FatBuild, error) {
	key, err := cachekey.Compose(mask, id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	rec, ok := s.fat[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return decodeFatBuild(rec.payload)
}

// PutFatBuild stores fb unless a newer version is already cached.
func (s *MemoryStore) PutFatBuild(ctx context.Context, mask uint16, fb *provider.FatBuild) (bool, error) {
	key, err := cachekey.Compose(mask, fb.ID)
	if err != nil {
		return false, err
	}
	payload, err := encodeFatBuild(fb)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.fat[key]; ok {
		if existing.version > fb.Version {
			return false, nil
		}
		if existing.version == fb.Version && bytes.Equal(existing.payload, payload) {
			return false, nil
		}
	}

	s.fat[key] = fatRecord{version: fb.Version, payload: payload}
	return true, nil
}

// FatBuildIDs lists cached build ids for one server.
func (s *MemoryStore) FatBuildIDs(ctx context.Context, mask uint16) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for key := range s.fat {
		if m, id := cachekey.Split(key); m == mask {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Close closes the store (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}

func sortedKeys(set map[int64]struct{}) []int64 {
	keys := make([]int64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
