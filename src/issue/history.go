package issue

import (
	"context"
	"fmt"
	"sort"

	"buildwatch-agent/src/provider"
)

// HistorySource serves cached build history for one server.
type HistorySource interface {
	GetBuildHistory(ctx context.Context, buildTypeID, branch string) ([]provider.BuildRef, error)
	GetFatBuild(ctx context.Context, id int64, acceptQueued bool) (*provider.FatBuild, error)
}

// History is the per-test outcome matrix of a build type on a branch.
type History struct {
	// BuildIDs are the finished builds considered, oldest first.
	BuildIDs []int64
	// Runs maps each test name to one outcome per build in BuildIDs.
	Runs map[string][]Run
}

// TestNames returns the tests in the history, sorted.
func (h *History) TestNames() []string {
	names := make([]string, 0, len(h.Runs))
	for name := range h.Runs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CollectRuns assembles outcome sequences from the newest depth finished
// builds. A test absent from a build is MISSING there; a failure in a build
// with a critical problem is a critical failure.
func CollectRuns(ctx context.Context, src HistorySource, buildTypeID, branch string, depth int) (*History, error) {
	refs, err := src.GetBuildHistory(ctx, buildTypeID, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to read build history: %w", err)
	}

	var builds []*provider.FatBuild
	for _, ref := range refs {
		if depth > 0 && len(builds) >= depth {
			break
		}
		if !ref.IsFinished() {
			continue
		}
		fb, err := src.GetFatBuild(ctx, ref.ID, false)
		if err != nil {
			return nil, fmt.Errorf("failed to load build %d: %w", ref.ID, err)
		}
		if fb == nil || !fb.IsFinished() {
			continue
		}
		builds = append(builds, fb)
	}

	// refs are newest first; outcome sequences run oldest to newest.
	for i, j := 0, len(builds)-1; i < j; i, j = i+1, j-1 {
		builds[i], builds[j] = builds[j], builds[i]
	}

	h := &History{
		BuildIDs: make([]int64, len(builds)),
		Runs:     make(map[string][]Run),
	}
	for i, fb := range builds {
		h.BuildIDs[i] = fb.ID
		for _, t := range fb.Tests {
			if _, ok := h.Runs[t.Name]; !ok {
				h.Runs[t.Name] = nil
			}
		}
	}

	for name := range h.Runs {
		runs := make([]Run, len(builds))
		for i, fb := range builds {
			runs[i] = Run{BuildID: fb.ID, Status: outcome(fb, name)}
		}
		h.Runs[name] = runs
	}

	return h, nil
}

func outcome(fb *provider.FatBuild, testName string) RunStatus {
	t, ok := fb.Test(testName)
	if !ok {
		return RunMissing
	}
	switch t.Status {
	case provider.TestOK:
		return RunOK
	case provider.TestFailure:
		if fb.HasCriticalProblem() {
			return RunCriticalFailure
		}
		return RunFailure
	default:
		return RunMissing
	}
}

// Scan collects history and runs the detector over every test. Events are
// ordered by test name, then template order.
func (d *Detector) Scan(ctx context.Context, src HistorySource, buildTypeID, branch string, depth int) ([]Event, error) {
	h, err := CollectRuns(ctx, src, buildTypeID, branch, depth)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, name := range h.TestNames() {
		events = append(events, d.Detect(name, h.Runs[name])...)
	}
	return events, nil
}
