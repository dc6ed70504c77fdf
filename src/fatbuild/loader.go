package fatbuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"buildwatch-agent/src/buildref"
	"buildwatch-agent/src/logger"
	"buildwatch-agent/src/provider"
	"buildwatch-agent/src/scheduler"
)

const (
	// DefaultParallelism bounds concurrent reloads per server.
	DefaultParallelism = 4

	// DefaultFindMissingPeriod is the minimum spacing of repair passes.
	DefaultFindMissingPeriod = 5 * time.Minute
)

// ErrLoadFailed marks a reload that failed at the source with no cached copy to fall back to.
var ErrLoadFailed = errors.New("build load failed")

// Loader applies the FatBuild reload policy for one server and owns its load queue.
type Loader struct {
	serverID string
	source   provider.Source
	fat      *Cache
	refs     *buildref.Cache
	sched    scheduler.Scheduler
	logger   logger.Logger

	// Parallelism bounds concurrent reloads in DoLoadBuilds.
	Parallelism int
	// FindMissingPeriod spaces repair passes.
	FindMissingPeriod time.Duration

	mu       sync.Mutex
	pending  map[int64]struct{}
	draining bool
}

// NewLoader wires a loader for one server.
func NewLoader(serverID string, source provider.Source, fat *Cache, refs *buildref.Cache, sched scheduler.Scheduler, log logger.Logger) *Loader {
	return &Loader{
		serverID:          serverID,
		source:            source,
		fat:               fat,
		refs:              refs,
		sched:             sched,
		logger:            log,
		Parallelism:       DefaultParallelism,
		FindMissingPeriod: DefaultFindMissingPeriod,
		pending:           make(map[int64]struct{}),
	}
}

func (l *Loader) taskName(op string) string {
	return fmt.Sprintf("Loader.%s.%s", op, l.serverID)
}

// GetFatBuild serves a build from cache when it is current, reloading it otherwise.
// A queued or running build is served from cache only when acceptQueued is set.
func (l *Loader) GetFatBuild(ctx context.Context, id int64, acceptQueued bool) (*provider.FatBuild, error) {
	existing, err := l.fat.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached build %d: %w", id, err)
	}

	if existing != nil && !existing.IsOutdated() && (existing.IsFinished() || acceptQueued) {
		return existing, nil
	}

	return l.ReloadBuild(ctx, id, existing)
}

// ReloadBuild fetches a build from the source and stores it with its derived BuildRef.
// existing is offered to the source so it can answer ErrNotModified; when the
// source yields nothing the existing copy is returned.
func (l *Loader) ReloadBuild(ctx context.Context, id int64, existing *provider.FatBuild) (*provider.FatBuild, error) {
	prev := existing
	if prev != nil && prev.IsOutdated() {
		prev = nil
	}

	fresh, err := l.source.GetFullBuild(ctx, id, prev)
	if err != nil {
		if errors.Is(err, provider.ErrNotModified) {
			return existing, nil
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: build %d: %w", ErrLoadFailed, id, err)
		}
		l.logger.Error("[Loader] Reload of build %d on %s failed, serving cached copy: %v", id, l.serverID, err)
		return existing, nil
	}

	fresh.Version = provider.LatestFatBuildVersion
	if _, err := l.fat.Save(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to save build %d: %w", id, err)
	}
	if _, err := l.refs.Save(ctx, fresh.Ref()); err != nil {
		return nil, fmt.Errorf("failed to save build ref %d: %w", id, err)
	}

	return fresh, nil
}

// ScheduleBuildsLoad queues ids for background reload.
func (l *Loader) ScheduleBuildsLoad(ids []int64) {
	if len(ids) == 0 {
		return
	}

	l.mu.Lock()
	for _, id := range ids {
		l.pending[id] = struct{}{}
	}
	start := !l.draining
	l.draining = true
	l.mu.Unlock()

	if start {
		l.sched.InvokeLater(l.drain, 0)
	}
}

// PendingLoads returns the number of queued ids.
func (l *Loader) PendingLoads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Loader) drain(ctx context.Context) error {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.draining = false
			l.mu.Unlock()
			return nil
		}
		ids := make([]int64, 0, len(l.pending))
		for id := range l.pending {
			ids = append(ids, id)
		}
		l.pending = make(map[int64]struct{})
		l.mu.Unlock()

		if _, err := l.DoLoadBuilds(ctx, ids); err != nil {
			// The batch stays queued for the next drain.
			l.mu.Lock()
			for _, id := range ids {
				l.pending[id] = struct{}{}
			}
			l.draining = false
			l.mu.Unlock()
			return err
		}
	}
}

// DoLoadBuilds reloads ids now with bounded parallelism and returns how many
// produced a build.
func (l *Loader) DoLoadBuilds(ctx context.Context, ids []int64) (int, error) {
	var loaded int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism())

	for _, id := range ids {
		id := id
		g.Go(func() error {
			existing, err := l.fat.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to read cached build %d: %w", id, err)
			}
			fb, err := l.ReloadBuild(ctx, id, existing)
			if err != nil {
				if errors.Is(err, ErrLoadFailed) {
					l.logger.Error("[Loader] %v", err)
					return nil
				}
				return err
			}
			if fb != nil {
				atomic.AddInt64(&loaded, 1)
			}
			return nil
		})
	}

	err := g.Wait()
	if len(ids) > 0 {
		l.logger.Debug("[Loader] Loaded %d of %d builds for %s", loaded, len(ids), l.serverID)
	}
	return int(loaded), err
}

func (l *Loader) parallelism() int {
	if l.Parallelism <= 0 {
		return 1
	}
	return l.Parallelism
}

// InvokeLaterFindMissing schedules the repair pass under its per-server name.
func (l *Loader) InvokeLaterFindMissing() {
	l.sched.ScheduleNamed(l.taskName("findMissing"), func(ctx context.Context) error {
		_, _, err := l.FindMissing(ctx)
		return err
	}, l.FindMissingPeriod)
}

// FindMissing repairs the two caches against each other. FatBuilds without a
// BuildRef get their ref derived and saved; BuildRefs without a FatBuild are
// queued for load. It returns both counts.
func (l *Loader) FindMissing(ctx context.Context) (refsRepaired, loadsQueued int, err error) {
	fatIDs, err := l.fat.IDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list fat builds: %w", err)
	}
	refs, err := l.refs.All(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list build refs: %w", err)
	}

	haveFat := make(map[int64]struct{}, len(fatIDs))
	for _, id := range fatIDs {
		haveFat[id] = struct{}{}
	}
	haveRef := make(map[int64]struct{}, len(refs))
	for _, r := range refs {
		haveRef[r.ID] = struct{}{}
	}

	for _, id := range fatIDs {
		if _, ok := haveRef[id]; ok {
			continue
		}
		fb, err := l.fat.Get(ctx, id)
		if err != nil {
			return refsRepaired, 0, fmt.Errorf("failed to read cached build %d: %w", id, err)
		}
		if fb == nil {
			continue
		}
		if _, err := l.refs.Save(ctx, fb.Ref()); err != nil {
			return refsRepaired, 0, fmt.Errorf("failed to repair build ref %d: %w", id, err)
		}
		refsRepaired++
	}

	var missing []int64
	for _, r := range refs {
		if _, ok := haveFat[r.ID]; !ok {
			missing = append(missing, r.ID)
		}
	}
	l.ScheduleBuildsLoad(missing)

	if refsRepaired > 0 || len(missing) > 0 {
		l.logger.Info("[Loader] Repair on %s: %d refs restored, %d builds queued", l.serverID, refsRepaired, len(missing))
	}
	return refsRepaired, len(missing), nil
}
