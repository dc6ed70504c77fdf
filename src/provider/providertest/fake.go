// Package providertest provides an in-memory provider.Source for tests.
package providertest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"buildwatch-agent/src/provider"
)

// FakeSource serves builds from memory, newest first, in fixed-size pages.
// The page cursor is the offset of the next page.
type FakeSource struct {
	PageSize int

	mu        sync.Mutex
	builds    map[int64]*provider.FatBuild
	pageErrs  map[int]error
	pageCalls int
	fullCalls map[int64]int
	clock     time.Time
}

// NewFakeSource creates an empty source.
func NewFakeSource(pageSize int) *FakeSource {
	return &FakeSource{
		PageSize:  pageSize,
		builds:    make(map[int64]*provider.FatBuild),
		pageErrs:  make(map[int]error),
		fullCalls: make(map[int64]int),
		clock:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Put adds or replaces a remote build and bumps its change stamp.
func (f *FakeSource) Put(fb provider.FatBuild) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.clock = f.clock.Add(time.Second)
	fb.UpdatedAt = f.clock
	fb.Version = provider.LatestFatBuildVersion
	f.builds[fb.ID] = &fb
}

// FailPage makes the page at index (0 is the first page) return err until cleared with nil.
func (f *FakeSource) FailPage(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.pageErrs, index)
		return
	}
	f.pageErrs[index] = err
}

// PageCalls returns how many pages were requested.
func (f *FakeSource) PageCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls
}

// FullCalls returns how many times a build's detail was requested.
func (f *FakeSource) FullCalls(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullCalls[id]
}

// TotalFullCalls returns detail requests across all builds.
func (f *FakeSource) TotalFullCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fullCalls {
		n += c
	}
	return n
}

func (f *FakeSource) Name() string { return "fake" }

func (f *FakeSource) Host() string { return "fake.local" }

func (f *FakeSource) GetBuildRefsPage(ctx context.Context, cursor string) ([]provider.BuildRef, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", err
		}
		offset = n
	}

	size := f.PageSize
	if size <= 0 {
		size = 100
	}

	pageIndex := offset / size
	f.pageCalls++
	if err := f.pageErrs[pageIndex]; err != nil {
		return nil, "", err
	}

	ids := make([]int64, 0, len(f.builds))
	for id := range f.builds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	if offset >= len(ids) {
		return []provider.BuildRef{}, "", nil
	}
	end := offset + size
	if end > len(ids) {
		end = len(ids)
	}

	refs := make([]provider.BuildRef, 0, end-offset)
	for _, id := range ids[offset:end] {
		refs = append(refs, f.builds[id].Ref())
	}

	next := ""
	if end < len(ids) {
		next = strconv.Itoa(end)
	}
	return refs, next, nil
}

func (f *FakeSource) GetFullBuild(ctx context.Context, id int64, prev *provider.FatBuild) (*provider.FatBuild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fullCalls[id]++
	fb, ok := f.builds[id]
	if !ok {
		return nil, provider.ErrBuildNotFound
	}
	if prev != nil && prev.UpdatedAt.Equal(fb.UpdatedAt) {
		return nil, provider.ErrNotModified
	}

	cp := *fb
	cp.Tests = append([]provider.TestOccurrence(nil), fb.Tests...)
	cp.Problems = append([]provider.Problem(nil), fb.Problems...)
	cp.Changes = append([]int64(nil), fb.Changes...)
	return &cp, nil
}

func (f *FakeSource) TriggerBuild(ctx context.Context, buildTypeID, branch string, cleanRebuild, queueAtTop bool) (*provider.BuildRef, error) {
	f.mu.Lock()
	var max int64
	for id := range f.builds {
		if id > max {
			max = id
		}
	}
	f.mu.Unlock()

	fb := provider.FatBuild{
		ID:          max + 1,
		BuildTypeID: buildTypeID,
		Branch:      branch,
		State:       provider.StateQueued,
		Status:      provider.StatusUnknown,
	}
	f.Put(fb)

	ref := fb.Ref()
	return &ref, nil
}
