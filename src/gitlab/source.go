// Package gitlab synchronizes GitLab CI pipelines of one project.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xanzy/go-gitlab"

	"buildwatch-agent/src/junit"
	"buildwatch-agent/src/provider"
	"buildwatch-agent/src/sanitize"
)

const (
	defaultBaseURL = "https://gitlab.com"
	perPage        = 100
)

// criticalFailureReasons are job failure reasons that break the whole pipeline
// rather than point at a test.
var criticalFailureReasons = map[string]bool{
	"job_execution_timeout":    true,
	"stuck_or_timeout_failure": true,
	"runner_system_failure":    true,
	"runner_unsupported":       true,
	"scheduler_failure":        true,
}

func init() {
	provider.RegisterProvider("gitlab", func(spec provider.ServerSpec) (provider.Source, error) {
		return NewSource(spec)
	})
}

// Source implements provider.Source for one GitLab project. Pipeline ids are
// build ids and the project path is the build type.
type Source struct {
	gl      *gitlab.Client
	project string
	host    string
}

// NewSource creates a GitLab source for spec.Project.
func NewSource(spec provider.ServerSpec) (*Source, error) {
	if spec.Project == "" {
		return nil, fmt.Errorf("gitlab server %q needs a project", spec.ID)
	}

	baseURL := strings.TrimSuffix(spec.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	gl, err := gitlab.NewClient(spec.Token, gitlab.WithBaseURL(baseURL+"/api/v4"), gitlab.WithoutRetries())
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	return &Source{
		gl:      gl,
		project: spec.Project,
		host:    strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://") + "/" + spec.Project,
	}, nil
}

// Name returns "gitlab"
func (s *Source) Name() string {
	return "gitlab"
}

// Host returns host/project.
func (s *Source) Host() string {
	return s.host
}

// GetBuildRefsPage lists pipelines newest first. The cursor is the page number.
func (s *Source) GetBuildRefsPage(ctx context.Context, cursor string) ([]provider.BuildRef, string, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page cursor %q: %w", cursor, err)
		}
		page = n
	}

	opts := &gitlab.ListProjectPipelinesOptions{
		ListOptions: gitlab.ListOptions{
			PerPage: perPage,
			Page:    page,
		},
		OrderBy: gitlab.Ptr("id"),
		Sort:    gitlab.Ptr("desc"),
	}

	pipelines, resp, err := s.gl.Pipelines.ListProjectPipelines(s.project, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, "", translate(err)
	}

	refs := make([]provider.BuildRef, 0, len(pipelines))
	for _, p := range pipelines {
		refs = append(refs, s.ref(int64(p.ID), p.Ref, p.Status))
	}

	next := ""
	if resp != nil && resp.NextPage != 0 {
		next = strconv.Itoa(resp.NextPage)
	}
	return refs, next, nil
}

// GetFullBuild loads a pipeline, its jobs and, once finished, its test report.
func (s *Source) GetFullBuild(ctx context.Context, id int64, prev *provider.FatBuild) (*provider.FatBuild, error) {
	p, _, err := s.gl.Pipelines.GetPipeline(s.project, int(id), gitlab.WithContext(ctx))
	if err != nil {
		return nil, translate(err)
	}

	updated := timeOf(p.UpdatedAt)
	if prev != nil && !updated.IsZero() && prev.UpdatedAt.Equal(updated) {
		return nil, provider.ErrNotModified
	}

	ref := s.ref(int64(p.ID), p.Ref, p.Status)
	fb := &provider.FatBuild{
		ID:          ref.ID,
		BuildTypeID: ref.BuildTypeID,
		Branch:      ref.Branch,
		State:       ref.State,
		Status:      ref.Status,
		UpdatedAt:   updated,
		QueuedAt:    timeOf(p.CreatedAt),
		StartedAt:   timeOf(p.StartedAt),
		FinishedAt:  timeOf(p.FinishedAt),
		WebURL:      p.WebURL,
	}

	problems, err := s.problems(ctx, int(id))
	if err != nil {
		return nil, err
	}
	fb.Problems = problems

	if fb.IsFinished() {
		tests, err := s.tests(ctx, int(id))
		if err != nil {
			return nil, err
		}
		fb.Tests = tests
	}

	return fb, nil
}

func (s *Source) problems(ctx context.Context, pipelineID int) ([]provider.Problem, error) {
	opts := &gitlab.ListJobsOptions{
		ListOptions: gitlab.ListOptions{
			PerPage: perPage,
			Page:    1,
		},
	}

	var problems []provider.Problem
	for {
		jobs, resp, err := s.gl.Jobs.ListPipelineJobs(s.project, pipelineID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, translate(err)
		}

		for _, j := range jobs {
			if j.Status != "failed" || j.AllowFailure {
				continue
			}
			if criticalFailureReasons[j.FailureReason] {
				problems = append(problems, provider.Problem{Type: j.FailureReason, Description: sanitize.Label(j.Name), Critical: true})
				continue
			}
			problems = append(problems, provider.Problem{Type: "job_failure", Description: sanitize.Label(j.Name)})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return problems, nil
}

// tests reads the pipeline test report GitLab aggregates from JUnit artifacts.
func (s *Source) tests(ctx context.Context, pipelineID int) ([]provider.TestOccurrence, error) {
	report, _, err := s.gl.Pipelines.GetPipelineTestReport(s.project, pipelineID, gitlab.WithContext(ctx))
	if err != nil {
		return nil, translate(err)
	}

	var results []junit.Result
	for _, suite := range report.TestSuites {
		for _, tc := range suite.TestCases {
			results = append(results, junit.Result{
				Name:     junit.QualifiedName(suite.Name, tc.Classname, tc.Name),
				Status:   testStatus(tc.Status),
				Duration: time.Duration(tc.ExecutionTime * float64(time.Second)),
			})
		}
	}
	return junit.Occurrences(results), nil
}

// TriggerBuild creates a pipeline on branch. cleanRebuild forces a fresh
// clone through GIT_STRATEGY; GitLab has no queue priority so queueAtTop is ignored.
func (s *Source) TriggerBuild(ctx context.Context, buildTypeID, branch string, cleanRebuild, queueAtTop bool) (*provider.BuildRef, error) {
	opts := &gitlab.CreatePipelineOptions{Ref: gitlab.Ptr(branch)}
	if cleanRebuild {
		opts.Variables = &[]*gitlab.PipelineVariableOptions{
			{Key: gitlab.Ptr("GIT_STRATEGY"), Value: gitlab.Ptr("clone")},
		}
	}

	p, _, err := s.gl.Pipelines.CreatePipeline(s.project, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, translate(err)
	}

	ref := s.ref(int64(p.ID), p.Ref, p.Status)
	return &ref, nil
}

func (s *Source) ref(id int64, branch, status string) provider.BuildRef {
	return provider.BuildRef{
		ID:          id,
		BuildTypeID: s.project,
		Branch:      branch,
		State:       mapState(status),
		Status:      mapStatus(status),
	}
}

func mapState(status string) provider.BuildState {
	switch status {
	case "running", "canceling":
		return provider.StateRunning
	case "success", "failed", "canceled", "skipped":
		return provider.StateFinished
	default:
		// created, waiting_for_resource, preparing, pending, scheduled, manual
		return provider.StateQueued
	}
}

func mapStatus(status string) string {
	switch status {
	case "success":
		return provider.StatusSuccess
	case "failed":
		return provider.StatusFailure
	default:
		return provider.StatusUnknown
	}
}

func testStatus(status string) provider.TestStatus {
	switch status {
	case "success":
		return provider.TestOK
	case "skipped":
		return provider.TestIgnored
	default:
		// failed, error
		return provider.TestFailure
	}
}

// translate maps GitLab API errors onto provider sentinels.
func translate(err error) error {
	var errResp *gitlab.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return provider.HTTPStatusError(errResp.Response.StatusCode, errResp.Message)
	}
	return provider.TransportError(err)
}

func timeOf(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
