package buildkite

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"buildwatch-agent/src/junit"
	"buildwatch-agent/src/provider"
	"buildwatch-agent/src/sanitize"
)

func init() {
	provider.RegisterProvider("buildkite", func(spec provider.ServerSpec) (provider.Source, error) {
		return NewSource(spec)
	})
}

// Source implements provider.Source for one Buildkite pipeline. Build
// numbers are build ids and the pipeline slug is the build type.
type Source struct {
	client *Client
	host   string
}

// NewSource creates a Buildkite source for spec.Org/spec.Pipeline.
func NewSource(spec provider.ServerSpec) (*Source, error) {
	if spec.Org == "" || spec.Pipeline == "" {
		return nil, fmt.Errorf("buildkite server %q needs org and pipeline", spec.ID)
	}

	client := NewClient(spec.Token, spec.Org, spec.Pipeline)
	if spec.BaseURL != "" {
		client.baseURL = strings.TrimSuffix(spec.BaseURL, "/")
	}

	return &Source{client: client, host: spec.Org + "/" + spec.Pipeline}, nil
}

// Name returns "buildkite"
func (s *Source) Name() string {
	return "buildkite"
}

// Host returns org/pipeline.
func (s *Source) Host() string {
	return s.host
}

// GetBuildRefsPage lists builds newest first, following the Link header.
func (s *Source) GetBuildRefsPage(ctx context.Context, cursor string) ([]provider.BuildRef, string, error) {
	builds, next, err := s.client.ListBuilds(ctx, cursor)
	if err != nil {
		return nil, "", err
	}

	refs := make([]provider.BuildRef, 0, len(builds))
	for _, b := range builds {
		refs = append(refs, s.refOf(b))
	}
	return refs, next, nil
}

// GetFullBuild loads a build with its jobs and, once finished, its JUnit artifacts.
// Buildkite exposes no modification stamp, so only a finished build whose
// finish time is unchanged counts as not modified.
func (s *Source) GetFullBuild(ctx context.Context, id int64, prev *provider.FatBuild) (*provider.FatBuild, error) {
	b, err := s.client.GetBuild(ctx, id)
	if err != nil {
		return nil, err
	}

	ref := s.refOf(*b)
	fb := &provider.FatBuild{
		ID:          ref.ID,
		BuildTypeID: ref.BuildTypeID,
		Branch:      ref.Branch,
		State:       ref.State,
		Status:      ref.Status,
		QueuedAt:    b.CreatedAt,
		StartedAt:   timeOf(b.StartedAt),
		FinishedAt:  timeOf(b.FinishedAt),
		WebURL:      b.WebURL,
		Problems:    problemsOf(b.Jobs),
	}
	fb.UpdatedAt = latest(b.CreatedAt, timeOf(b.ScheduledAt), fb.StartedAt, fb.FinishedAt)

	if prev != nil && prev.IsFinished() && fb.IsFinished() && prev.UpdatedAt.Equal(fb.UpdatedAt) {
		return nil, provider.ErrNotModified
	}

	if fb.IsFinished() {
		tests, err := s.loadTests(ctx, id)
		if err != nil {
			return nil, err
		}
		fb.Tests = tests
	}

	return fb, nil
}

func (s *Source) loadTests(ctx context.Context, number int64) ([]provider.TestOccurrence, error) {
	artifacts, err := s.client.GetBuildArtifacts(ctx, number)
	if err != nil {
		return nil, err
	}

	var results []junit.Result
	for _, a := range artifacts {
		if !isJUnitPath(a.Path) {
			continue
		}
		data, err := s.client.DownloadArtifact(ctx, a.DownloadURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download artifact %s: %w", a.Path, err)
		}
		parsed, err := junit.Parse(data)
		if err != nil {
			continue
		}
		results = append(results, parsed...)
	}

	return junit.Occurrences(results), nil
}

func isJUnitPath(p string) bool {
	if !strings.HasSuffix(p, ".xml") {
		return false
	}
	base := strings.ToLower(path.Base(p))
	dir := strings.ToLower(path.Dir(p))
	return strings.Contains(base, "junit") || strings.Contains(base, "test") || strings.Contains(dir, "test")
}

// TriggerBuild creates a build of HEAD on branch. cleanRebuild maps to a
// clean checkout; Buildkite has no queue priority so queueAtTop is ignored.
func (s *Source) TriggerBuild(ctx context.Context, buildTypeID, branch string, cleanRebuild, queueAtTop bool) (*provider.BuildRef, error) {
	b, err := s.client.CreateBuild(ctx, CreateBuildRequest{
		Commit:        "HEAD",
		Branch:        branch,
		Message:       "Triggered by buildwatch",
		CleanCheckout: cleanRebuild,
	})
	if err != nil {
		return nil, err
	}

	ref := s.refOf(*b)
	return &ref, nil
}

func (s *Source) refOf(b Build) provider.BuildRef {
	return provider.BuildRef{
		ID:          b.Number,
		BuildTypeID: s.client.pipeline,
		Branch:      b.Branch,
		State:       mapState(b.State),
		Status:      mapStatus(b.State),
	}
}

func mapState(state string) provider.BuildState {
	switch state {
	case "scheduled", "creating", "blocked":
		return provider.StateQueued
	case "running", "canceling", "failing":
		return provider.StateRunning
	default:
		// passed, failed, canceled, skipped, not_run
		return provider.StateFinished
	}
}

func mapStatus(state string) string {
	switch state {
	case "passed":
		return provider.StatusSuccess
	case "failed":
		return provider.StatusFailure
	case "canceled", "skipped", "not_run",
		"scheduled", "creating", "blocked", "running", "canceling", "failing":
		return provider.StatusUnknown
	default:
		return provider.StatusError
	}
}

// problemsOf reports failed script jobs. A timed out job, or one whose agent
// was lost (exit status -1), breaks the whole build.
func problemsOf(jobs []Job) []provider.Problem {
	var problems []provider.Problem
	for _, j := range jobs {
		if j.Type != "script" {
			continue
		}
		switch {
		case j.State == "timed_out":
			problems = append(problems, provider.Problem{Type: "timeout", Description: sanitize.Label(j.Name), Critical: true})
		case j.State == "failed" && j.ExitStatus != nil && *j.ExitStatus == -1:
			problems = append(problems, provider.Problem{Type: "agent_lost", Description: sanitize.Label(j.Name), Critical: true})
		case j.State == "failed":
			problems = append(problems, provider.Problem{Type: "job_failure", Description: sanitize.Label(j.Name)})
		}
	}
	return problems
}

func timeOf(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func latest(times ...time.Time) time.Time {
	var max time.Time
	for _, t := range times {
		if t.After(max) {
			max = t
		}
	}
	return max
}
