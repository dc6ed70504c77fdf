package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildwatch-agent/src/cachekey"
	"buildwatch-agent/src/provider"
)

// testStoreContract exercises the behavior every Store implementation shares.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	const mask uint16 = 7

	t.Run("SaveBuildRefs is idempotent", func(t *testing.T) {
		s := newStore(t)
		refs := []provider.BuildRef{
			{ID: 10, BuildTypeID: "ci", Branch: "main", State: provider.StateFinished, Status: provider.StatusSuccess},
			{ID: 11, BuildTypeID: "ci", Branch: "main", State: provider.StateRunning, Status: provider.StatusUnknown},
		}

		keys, err := s.SaveBuildRefs(ctx, mask, refs)
		require.NoError(t, err)
		want := []int64{cachekey.MustCompose(mask, 10), cachekey.MustCompose(mask, 11)}
		if diff := cmp.Diff(want, keys); diff != "" {
			t.Errorf("first save keys mismatch (-want +got):\n%s", diff)
		}

		keys, err = s.SaveBuildRefs(ctx, mask, refs)
		require.NoError(t, err)
		assert.Empty(t, keys, "replaying an unchanged chunk must write nothing")

		refs[1].State = provider.StateFinished
		refs[1].Status = provider.StatusFailure
		keys, err = s.SaveBuildRefs(ctx, mask, refs)
		require.NoError(t, err)
		assert.Equal(t, []int64{cachekey.MustCompose(mask, 11)}, keys)

		got, err := s.GetBuildRef(ctx, mask, 11)
		require.NoError(t, err)
		assert.Equal(t, refs[1], *got)
	})

	t.Run("FindBuildRefs orders by id descending", func(t *testing.T) {
		s := newStore(t)
		_, err := s.SaveBuildRefs(ctx, mask, []provider.BuildRef{
			{ID: 3, BuildTypeID: "ci", Branch: "main", State: provider.StateFinished, Status: provider.StatusSuccess},
			{ID: 9, BuildTypeID: "ci", Branch: "main", State: provider.StateQueued},
			{ID: 5, BuildTypeID: "ci", Branch: "dev", State: provider.StateRunning},
			{ID: 7, BuildTypeID: "nightly", Branch: "main", State: provider.StateFinished, Status: provider.StatusFailure},
		})
		require.NoError(t, err)

		tests := []struct {
			name   string
			filter Filter
			want   []int64
		}{
			{"all", Filter{}, []int64{9, 7, 5, 3}},
			{"build type and branch", Filter{BuildTypeID: "ci", Branch: "main"}, []int64{9, 3}},
			{"queued and running", Filter{States: []provider.BuildState{provider.StateQueued, provider.StateRunning}}, []int64{9, 5}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				refs, err := s.FindBuildRefs(ctx, mask, tt.filter)
				require.NoError(t, err)
				var ids []int64
				for _, r := range refs {
					ids = append(ids, r.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})

	t.Run("servers are namespaced", func(t *testing.T) {
		s := newStore(t)
		ref := provider.BuildRef{ID: 100, BuildTypeID: "ci", Branch: "main", State: provider.StateFinished, Status: provider.StatusSuccess}

		_, err := s.SaveBuildRefs(ctx, 1, []provider.BuildRef{ref})
		require.NoError(t, err)

		_, err = s.GetBuildRef(ctx, 2, 100)
		assert.ErrorIs(t, err, ErrNotFound)

		other := ref
		other.Status = provider.StatusFailure
		keys, err := s.SaveBuildRefs(ctx, 2, []provider.BuildRef{other})
		require.NoError(t, err)
		assert.Len(t, keys, 1)

		got, err := s.GetBuildRef(ctx, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, provider.StatusSuccess, got.Status)

		refs, err := s.FindBuildRefs(ctx, 2, Filter{})
		require.NoError(t, err)
		assert.Len(t, refs, 1)
	})

	t.Run("PutFatBuild keeps the newest version", func(t *testing.T) {
		s := newStore(t)
		fb := &provider.FatBuild{
			ID:          42,
			BuildTypeID: "ci",
			Branch:      "main",
			State:       provider.StateFinished,
			Status:      provider.StatusFailure,
			Version:     provider.LatestFatBuildVersion,
			Tests: []provider.TestOccurrence{
				{Name: "pkg.TestA", Status: provider.TestOK},
				{Name: "pkg.TestB", Status: provider.TestFailure},
			},
			Problems: []provider.Problem{{Type: "timeout", Critical: true}},
		}

		changed, err := s.PutFatBuild(ctx, mask, fb)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.PutFatBuild(ctx, mask, fb)
		require.NoError(t, err)
		assert.False(t, changed, "identical record must not count as a change")

		stale := *fb
		stale.Version = fb.Version - 1
		stale.Status = provider.StatusSuccess
		changed, err = s.PutFatBuild(ctx, mask, &stale)
		require.NoError(t, err)
		assert.False(t, changed, "older version must not overwrite")

		got, err := s.GetFatBuild(ctx, mask, 42)
		require.NoError(t, err)
		if diff := cmp.Diff(fb, got); diff != "" {
			t.Errorf("fat build mismatch (-want +got):\n%s", diff)
		}

		ids, err := s.FatBuildIDs(ctx, mask)
		require.NoError(t, err)
		assert.Equal(t, []int64{42}, ids)

		_, err = s.GetFatBuild(ctx, mask+1, 42)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	fb := &provider.FatBuild{ID: 1, Version: provider.LatestFatBuildVersion, Tests: []provider.TestOccurrence{{Name: "a", Status: provider.TestOK}}}
	_, err := s.PutFatBuild(ctx, 1, fb)
	require.NoError(t, err)

	got, err := s.GetFatBuild(ctx, 1, 1)
	require.NoError(t, err)
	got.Tests[0].Status = provider.TestFailure

	again, err := s.GetFatBuild(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, provider.TestOK, again.Tests[0].Status)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dsn     string
		wantErr bool
	}{
		{"memory", "memory", "", false},
		{"default", "", "", false},
		{"sqlite", "sqlite3", ":memory:", false},
		{"postgres without dsn", "postgres", "", true},
		{"mysql without dsn", "mysql", "", true},
		{"unknown", "cassandra", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.driver, tt.dsn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && s != nil {
				t.Fatalf("Open() returned store %T alongside error", s)
			}
			if s != nil {
				s.Close()
			}
		})
	}
}

func sampleFatBuild() *provider.FatBuild {
	return &provider.FatBuild{
		ID:          77,
		BuildTypeID: "ci",
		Branch:      "main",
		State:       provider.StateFinished,
		Status:      provider.StatusSuccess,
		Version:     provider.LatestFatBuildVersion,
		Tests: []provider.TestOccurrence{
			{Name: "suite.TestOne", Status: provider.TestOK},
			{Name: "suite.TestTwo", Status: provider.TestIgnored},
		},
		Changes: []int64{1, 2},
	}
}
