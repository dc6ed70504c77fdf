// Package store defines the interface for persistent build-history storage.
package store

import (
	"context"
	"errors"
	"fmt"

	"buildwatch-agent/src/provider"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Filter narrows a BuildRef range scan. Empty fields match anything.
type Filter struct {
	BuildTypeID string
	Branch      string
	States      []provider.BuildState
}

// Matches reports whether ref passes the filter.
func (f Filter) Matches(ref provider.BuildRef) bool {
	if f.BuildTypeID != "" && ref.BuildTypeID != f.BuildTypeID {
		return false
	}
	if f.Branch != "" && ref.Branch != f.Branch {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if ref.State == s {
			return true
		}
	}
	return false
}

// Store persists BuildRefs and FatBuilds under server-namespaced composite keys.
// Every method that takes a mask only sees that server's records.
type Store interface {
	// SaveBuildRefs writes refs that differ from their stored copy, atomically,
	// and returns the composite keys actually written in ascending order.
	SaveBuildRefs(ctx context.Context, mask uint16, refs []provider.BuildRef) ([]int64, error)

	// GetBuildRef returns ErrNotFound when the ref is not cached
	GetBuildRef(ctx context.Context, mask uint16, id int64) (*provider.BuildRef, error)

	// FindBuildRefs returns matching refs ordered by build id descending
	FindBuildRefs(ctx context.Context, mask uint16, filter Filter) ([]provider.BuildRef, error)

	// GetFatBuild returns ErrNotFound when the build is not cached
	GetFatBuild(ctx context.Context, mask uint16, id int64) (*provider.FatBuild, error)

	// PutFatBuild stores fb unless the stored copy has a newer entity version.
	// It reports whether the stored record changed.
	PutFatBuild(ctx context.Context, mask uint16, fb *provider.FatBuild) (bool, error)

	// FatBuildIDs lists the build ids with cached detail
	FatBuildIDs(ctx context.Context, mask uint16) ([]int64, error)

	// Close closes the store connection
	Close() error
}

// Open creates a Store for the given driver: memory, postgres, sqlite3 or mysql.
func Open(driver, dsn string) (Store, error) {
	var (
		s   *SQLStore
		err error
	)
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		s, err = NewPostgresStore(dsn)
	case "sqlite3", "sqlite":
		s, err = NewSQLiteStore(dsn)
	case "mysql":
		s, err = NewMySQLStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
