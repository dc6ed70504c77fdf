// Package actualize keeps each server's cached build history in step with the CI server.
package actualize

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"buildwatch-agent/src/buildref"
	"buildwatch-agent/src/fatbuild"
	"buildwatch-agent/src/logger"
	"buildwatch-agent/src/provider"
	"buildwatch-agent/src/scheduler"
)

// Options bound the sync algorithm.
type Options struct {
	// MaxIDDiff separates queued/running builds found by scanning from those
	// loaded directly: ids more than MaxIDDiff below the newest are loaded directly.
	MaxIDDiff int64
	// MaxChecked caps the refs an incremental pass examines while still hunting
	// mandatory ids.
	MaxChecked int

	ActualizeCoolDown   time.Duration
	ReindexDelay        time.Duration
	FullReindexInterval time.Duration
}

// DefaultOptions returns the standard bounds.
func DefaultOptions() Options {
	return Options{
		MaxIDDiff:           3000,
		MaxChecked:          5000,
		ActualizeCoolDown:   2 * time.Minute,
		ReindexDelay:        15 * time.Minute,
		FullReindexInterval: 120 * time.Minute,
	}
}

// Deps are the collaborators of one server's coordinator.
type Deps struct {
	ServerID  string
	Source    provider.Source
	Refs      *buildref.Cache
	Loader    *fatbuild.Loader
	Scheduler scheduler.Scheduler
	Logger    logger.Logger
	Metrics   *Metrics

	// OnScan, when set, is called after every scan pass.
	OnScan func(fullReindex bool, sum Summary, err error)
}

// Summary describes one scan pass.
type Summary struct {
	Saved          int
	Checked        int
	NeededToFind   int
	RemainedToFind int
	Pages          int
	Unresolved     []int64
}

func (s Summary) String() string {
	return fmt.Sprintf("Entries saved %d Builds checked %d Needed to find %d remained to find %d",
		s.Saved, s.Checked, s.NeededToFind, s.RemainedToFind)
}

// Coordinator runs the sync cycle for one server.
type Coordinator struct {
	deps Deps
	opts Options

	// scanMu serializes scans of this server.
	scanMu sync.Mutex
}

// New creates a coordinator.
func New(deps Deps, opts Options) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = logger.NewSilentLogger()
	}
	return &Coordinator{deps: deps, opts: opts}
}

// ServerID returns the server this coordinator owns.
func (c *Coordinator) ServerID() string {
	return c.deps.ServerID
}

// Source returns the remote source of this server.
func (c *Coordinator) Source() provider.Source {
	return c.deps.Source
}

// Refs returns the server's BuildRef cache.
func (c *Coordinator) Refs() *buildref.Cache {
	return c.deps.Refs
}

func (c *Coordinator) taskName(op string) string {
	return fmt.Sprintf("Coordinator.%s.%s", op, c.deps.ServerID)
}

// EnsureActualizeRequested schedules a recent-builds actualize, at most one per cool-down.
func (c *Coordinator) EnsureActualizeRequested() {
	c.deps.Scheduler.ScheduleNamed(c.taskName("actualizeRecent"), func(ctx context.Context) error {
		_, err := c.ActualizeRecent(ctx)
		return err
	}, c.opts.ActualizeCoolDown)
}

// GetBuildHistory returns cached refs for a build type and branch, newest first.
func (c *Coordinator) GetBuildHistory(ctx context.Context, buildTypeID, branch string) ([]provider.BuildRef, error) {
	c.EnsureActualizeRequested()
	return c.deps.Refs.FindBuildsInHistory(ctx, buildTypeID, branch)
}

// GetFatBuild returns full build detail under the cache reload policy.
func (c *Coordinator) GetFatBuild(ctx context.Context, id int64, acceptQueued bool) (*provider.FatBuild, error) {
	c.EnsureActualizeRequested()
	return c.deps.Loader.GetFatBuild(ctx, id, acceptQueued)
}

// TriggerBuild queues a build on the server and makes sure it lands in the cache.
func (c *Coordinator) TriggerBuild(ctx context.Context, buildTypeID, branch string, cleanRebuild, queueAtTop bool) (*provider.BuildRef, error) {
	ref, err := c.deps.Source.TriggerBuild(ctx, buildTypeID, c.deps.Refs.BranchForQuery(branch), cleanRebuild, queueAtTop)
	if err != nil {
		return nil, fmt.Errorf("failed to trigger %s on %s: %w", buildTypeID, c.deps.ServerID, err)
	}

	sum, err := c.RunActualize(ctx, false, []int64{ref.ID})
	if err != nil {
		c.deps.Logger.Error("[Coordinator] Sync after trigger of build %d on %s failed: %v", ref.ID, c.deps.ServerID, err)
	} else if sum.RemainedToFind > 0 {
		if _, err := c.deps.Refs.Save(ctx, *ref); err != nil {
			return ref, fmt.Errorf("failed to save triggered build ref: %w", err)
		}
	}

	return ref, nil
}

// ActualizeRecent runs one actualize cycle.
func (c *Coordinator) ActualizeRecent(ctx context.Context) (Summary, error) {
	c.deps.Loader.InvokeLaterFindMissing()

	running, err := c.deps.Refs.GetQueuedAndRunning(ctx)
	if err != nil {
		return Summary{}, err
	}
	ids := make([]int64, len(running))
	for i, r := range running {
		ids[i] = r.ID
	}

	direct, paginate := Partition(ids, c.opts.MaxIDDiff)
	c.deps.Loader.ScheduleBuildsLoad(direct)

	sum, scanErr := c.RunActualize(ctx, false, paginate)
	if scanErr != nil {
		c.deps.Logger.Error("[Coordinator] Incremental sync of %s aborted: %v", c.deps.ServerID, scanErr)
	}

	if len(sum.Unresolved) > 0 {
		if _, err := c.deps.Loader.DoLoadBuilds(ctx, sum.Unresolved); err != nil {
			c.deps.Logger.Error("[Coordinator] Direct load of %d unresolved builds on %s failed: %v", len(sum.Unresolved), c.deps.ServerID, err)
		}
	}

	c.deps.Scheduler.InvokeLater(func(ctx context.Context) error {
		c.scheduleFullReindex()
		return nil
	}, c.opts.ReindexDelay)

	return sum, scanErr
}

func (c *Coordinator) scheduleFullReindex() {
	c.deps.Scheduler.ScheduleNamed(c.taskName("fullReindex"), func(ctx context.Context) error {
		_, err := c.FullReindex(ctx)
		return err
	}, c.opts.FullReindexInterval)
}

// FullReindex walks every page of the server's build history.
func (c *Coordinator) FullReindex(ctx context.Context) (Summary, error) {
	return c.RunActualize(ctx, true, nil)
}

// RunActualize scans the server's build reference pages, saving each and
// queueing changed builds for reload. mandatory lists ids the pass should try
// to encounter. An incremental pass stops at the first page after the first
// that changes nothing, once mandatory ids are all found or the check budget
// is spent. A full pass reads every page.
func (c *Coordinator) RunActualize(ctx context.Context, fullReindex bool, mandatory []int64) (sum Summary, err error) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	task := "incremental"
	if fullReindex {
		task = "fullReindex"
	}
	done := c.deps.Metrics.StartTask(c.deps.ServerID, task)

	toFind := make(map[int64]struct{}, len(mandatory))
	for _, id := range mandatory {
		toFind[id] = struct{}{}
	}
	sum.NeededToFind = len(toFind)

	defer func() {
		sum.RemainedToFind = len(toFind)
		sum.Unresolved = sortedIDs(toFind)
		done(err)
		c.deps.Metrics.recordSummary(c.deps.ServerID, sum, !fullReindex)
		if err == nil {
			c.deps.Logger.Info("[Coordinator] %s %s: %s", c.deps.ServerID, task, sum)
		}
		if c.deps.OnScan != nil {
			c.deps.OnScan(fullReindex, sum, err)
		}
	}()

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		refs, next, err := c.deps.Source.GetBuildRefsPage(ctx, cursor)
		if err != nil {
			return sum, fmt.Errorf("failed to fetch build refs page %d: %w", sum.Pages+1, err)
		}
		firstPage := sum.Pages == 0
		sum.Pages++

		keys, err := c.deps.Refs.SaveChunk(ctx, refs)
		if err != nil {
			return sum, err
		}
		c.deps.Loader.ScheduleBuildsLoad(buildref.KeysToBuildIDs(keys))

		sum.Saved += len(keys)
		sum.Checked += len(refs)

		if firstPage || !fullReindex {
			for _, r := range refs {
				delete(toFind, r.ID)
			}
		}
		c.deps.Logger.Debug("[Coordinator] %s page %d: %d refs, %d changed, %d left to find",
			c.deps.ServerID, sum.Pages, len(refs), len(keys), len(toFind))

		if !firstPage && !fullReindex && len(keys) == 0 &&
			(len(toFind) == 0 || sum.Checked > c.opts.MaxChecked) {
			break
		}

		if next == "" {
			break
		}
		cursor = next
	}

	return sum, nil
}

// Partition splits queued/running ids around max(ids)-maxDiff. Ids strictly
// above the threshold are expected to surface in a forward scan; the rest are
// loaded directly. Input order is preserved.
func Partition(ids []int64, maxDiff int64) (direct, paginate []int64) {
	if len(ids) == 0 {
		return nil, nil
	}

	max := ids[0]
	for _, id := range ids[1:] {
		if id > max {
			max = id
		}
	}

	threshold := max - maxDiff
	for _, id := range ids {
		if id > threshold {
			paginate = append(paginate, id)
		} else {
			direct = append(direct, id)
		}
	}
	return direct, paginate
}

func sortedIDs(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
