package githubactions

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"buildwatch-agent/src/junit"
	"buildwatch-agent/src/provider"
	"buildwatch-agent/src/sanitize"
)

func init() {
	provider.RegisterProvider("github", func(spec provider.ServerSpec) (provider.Source, error) {
		return NewSource(spec)
	})
}

// Source implements provider.Source for one GitHub repository.
// Workflow runs are builds and the workflow file name is the build type.
type Source struct {
	client *Client
	host   string

	// DispatchPollInterval spaces the lookups for a freshly dispatched run.
	DispatchPollInterval time.Duration
	DispatchPollAttempts int
}

// NewSource creates a GitHub Actions source for spec.Owner/spec.Repo.
func NewSource(spec provider.ServerSpec) (*Source, error) {
	if spec.Owner == "" || spec.Repo == "" {
		return nil, fmt.Errorf("github server %q needs owner and repo", spec.ID)
	}

	client := NewClient(spec.Token, spec.Owner, spec.Repo)
	if spec.BaseURL != "" {
		client.baseURL = strings.TrimSuffix(spec.BaseURL, "/")
	}

	return &Source{
		client:               client,
		host:                 spec.Owner + "/" + spec.Repo,
		DispatchPollInterval: 2 * time.Second,
		DispatchPollAttempts: 5,
	}, nil
}

// Name returns "github"
func (s *Source) Name() string {
	return "github"
}

// Host returns owner/repo.
func (s *Source) Host() string {
	return s.host
}

// GetBuildRefsPage lists workflow runs newest first. The cursor is the
// Link header URL of the next page.
func (s *Source) GetBuildRefsPage(ctx context.Context, cursor string) ([]provider.BuildRef, string, error) {
	runs, next, err := s.client.ListWorkflowRuns(ctx, cursor)
	if err != nil {
		return nil, "", err
	}

	refs := make([]provider.BuildRef, 0, len(runs))
	for _, run := range runs {
		refs = append(refs, refOf(run))
	}
	return refs, next, nil
}

// GetFullBuild loads a run with its jobs and, once finished, its JUnit artifacts.
func (s *Source) GetFullBuild(ctx context.Context, id int64, prev *provider.FatBuild) (*provider.FatBuild, error) {
	run, err := s.client.GetWorkflowRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.UpdatedAt.Equal(run.UpdatedAt) {
		return nil, provider.ErrNotModified
	}

	ref := refOf(*run)
	fb := &provider.FatBuild{
		ID:          ref.ID,
		BuildTypeID: ref.BuildTypeID,
		Branch:      ref.Branch,
		State:       ref.State,
		Status:      ref.Status,
		UpdatedAt:   run.UpdatedAt,
		QueuedAt:    run.CreatedAt,
		StartedAt:   run.StartedAt,
		WebURL:      run.HTMLURL,
	}
	if fb.IsFinished() {
		fb.FinishedAt = run.UpdatedAt
	}

	jobs, err := s.client.GetWorkflowJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	fb.Problems = problemsOf(jobs)

	if fb.IsFinished() {
		tests, err := s.loadTests(ctx, id)
		if err != nil {
			return nil, err
		}
		fb.Tests = tests
	}

	return fb, nil
}

func (s *Source) loadTests(ctx context.Context, runID int64) ([]provider.TestOccurrence, error) {
	artifacts, err := s.client.GetArtifacts(ctx, runID)
	if err != nil {
		return nil, err
	}

	var results []junit.Result
	for _, artifact := range artifacts {
		if artifact.Expired || !isTestReport(artifact.Name) {
			continue
		}

		files, err := s.client.DownloadArtifact(ctx, artifact.ArchiveDownloadURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download artifact %s: %w", artifact.Name, err)
		}
		for name, content := range files {
			if !strings.HasSuffix(name, ".xml") {
				continue
			}
			parsed, err := junit.Parse(content)
			if err != nil {
				// Not every XML file in a report artifact is JUnit.
				continue
			}
			results = append(results, parsed...)
		}
	}

	return junit.Occurrences(results), nil
}

func isTestReport(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "junit") || strings.Contains(name, "test-results") || strings.Contains(name, "test-report")
}

// TriggerBuild dispatches the workflow named by buildTypeID on branch. The
// dispatch API returns no run id, so the newest dispatched run is polled for.
// GitHub has no clean-rebuild or queue priority; those flags are ignored.
func (s *Source) TriggerBuild(ctx context.Context, buildTypeID, branch string, cleanRebuild, queueAtTop bool) (*provider.BuildRef, error) {
	before, err := s.client.ListDispatchedRuns(ctx, buildTypeID, branch)
	if err != nil {
		return nil, err
	}
	var lastSeen int64
	if len(before) > 0 {
		lastSeen = before[0].ID
	}

	if err := s.client.DispatchWorkflow(ctx, buildTypeID, branch); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.DispatchPollAttempts; attempt++ {
		runs, err := s.client.ListDispatchedRuns(ctx, buildTypeID, branch)
		if err != nil {
			return nil, err
		}
		if len(runs) > 0 && runs[0].ID > lastSeen {
			ref := refOf(runs[0])
			return &ref, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.DispatchPollInterval):
		}
	}

	return nil, errors.New("workflow dispatched but the new run did not appear yet")
}

func refOf(run WorkflowRun) provider.BuildRef {
	return provider.BuildRef{
		ID:          run.ID,
		BuildTypeID: buildTypeOf(run),
		Branch:      run.HeadBranch,
		State:       mapGitHubState(run.Status),
		Status:      mapGitHubConclusion(run.Status, run.Conclusion),
	}
}

func buildTypeOf(run WorkflowRun) string {
	if run.Path != "" {
		return path.Base(run.Path)
	}
	return strconv.FormatInt(run.WorkflowID, 10)
}

// mapGitHubState maps a run status to a lifecycle state
func mapGitHubState(status string) provider.BuildState {
	switch status {
	case "completed":
		return provider.StateFinished
	case "in_progress":
		return provider.StateRunning
	default:
		// queued, requested, waiting, pending
		return provider.StateQueued
	}
}

// mapGitHubConclusion maps a run conclusion to an outcome code
func mapGitHubConclusion(status, conclusion string) string {
	if status != "completed" {
		return provider.StatusUnknown
	}
	switch conclusion {
	case "success", "neutral", "skipped":
		return provider.StatusSuccess
	case "failure":
		return provider.StatusFailure
	case "cancelled", "stale":
		return provider.StatusUnknown
	default:
		// timed_out, startup_failure, action_required
		return provider.StatusError
	}
}

func problemsOf(jobs []WorkflowJob) []provider.Problem {
	var problems []provider.Problem
	for _, job := range jobs {
		switch job.Conclusion {
		case "timed_out":
			problems = append(problems, provider.Problem{Type: "timeout", Description: sanitize.Label(job.Name), Critical: true})
		case "startup_failure":
			problems = append(problems, provider.Problem{Type: "startup_failure", Description: sanitize.Label(job.Name), Critical: true})
		case "failure":
			problems = append(problems, provider.Problem{Type: "job_failure", Description: sanitize.Label(job.Name)})
		}
	}
	return problems
}
