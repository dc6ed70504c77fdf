package provider

import "time"

// DefaultBranch is the branch token callers use when they mean the server's default branch.
const DefaultBranch = "<default>"

// LatestFatBuildVersion is the current FatBuild entity version. Cached records
// written with an older version are reloaded on next access.
const LatestFatBuildVersion = 2

// BuildState is the lifecycle state of a build.
type BuildState string

const (
	StateQueued   BuildState = "queued"
	StateRunning  BuildState = "running"
	StateFinished BuildState = "finished"
)

// Build outcome codes.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusError   = "ERROR"
	StatusUnknown = "UNKNOWN"
)

// BuildRef is the lightweight index entry for a build.
// It is a comparable value; equality is field-wise.
type BuildRef struct {
	ID          int64      `json:"id"`
	BuildTypeID string     `json:"build_type_id"`
	Branch      string     `json:"branch"`
	State       BuildState `json:"state"`
	Status      string     `json:"status"`
}

// IsFinished reports whether the build reached its final state.
func (r BuildRef) IsFinished() bool {
	return r.State == StateFinished
}

// IsQueuedOrRunning reports whether the build is still in progress.
func (r BuildRef) IsQueuedOrRunning() bool {
	return r.State == StateQueued || r.State == StateRunning
}

// TestStatus is the outcome of a single test occurrence.
type TestStatus string

const (
	TestOK      TestStatus = "OK"
	TestFailure TestStatus = "FAILURE"
	TestIgnored TestStatus = "IGNORED"
)

// TestOccurrence is one test executed within a build.
type TestOccurrence struct {
	Name     string        `json:"name"`
	Status   TestStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
}

// Problem is a build-level failure not attributed to a test.
// Critical problems (timeouts, crashes, OOM) mark the whole build as broken.
type Problem struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Critical    bool   `json:"critical"`
}

// FatBuild is the full detail of a build as cached locally.
type FatBuild struct {
	ID          int64            `json:"id"`
	BuildTypeID string           `json:"build_type_id"`
	Branch      string           `json:"branch"`
	State       BuildState       `json:"state"`
	Status      string           `json:"status"`
	Version     int              `json:"version"`
	UpdatedAt   time.Time        `json:"updated_at"`
	QueuedAt    time.Time        `json:"queued_at,omitempty"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	FinishedAt  time.Time        `json:"finished_at,omitempty"`
	WebURL      string           `json:"web_url,omitempty"`
	Tests       []TestOccurrence `json:"tests,omitempty"`
	Changes     []int64          `json:"changes,omitempty"`
	Problems    []Problem        `json:"problems,omitempty"`
}

// IsOutdated reports whether the record was written by an older entity version.
func (b *FatBuild) IsOutdated() bool {
	return b.Version < LatestFatBuildVersion
}

// IsFinished reports whether the build reached its final state.
func (b *FatBuild) IsFinished() bool {
	return b.State == StateFinished
}

// HasCriticalProblem reports whether any build problem is critical.
func (b *FatBuild) HasCriticalProblem() bool {
	for _, p := range b.Problems {
		if p.Critical {
			return true
		}
	}
	return false
}

// Ref derives the BuildRef for this build.
func (b *FatBuild) Ref() BuildRef {
	return BuildRef{
		ID:          b.ID,
		BuildTypeID: b.BuildTypeID,
		Branch:      b.Branch,
		State:       b.State,
		Status:      b.Status,
	}
}

// Test looks up a test occurrence by name.
func (b *FatBuild) Test(name string) (TestOccurrence, bool) {
	for _, t := range b.Tests {
		if t.Name == name {
			return t, true
		}
	}
	return TestOccurrence{}, false
}
