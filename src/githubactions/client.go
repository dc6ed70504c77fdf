package githubactions

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"buildwatch-agent/src/provider"
)

const defaultBaseURL = "https://api.github.com"

// perPage is GitHub's maximum page size.
const perPage = 100

// Client is a GitHub Actions API client scoped to one repository
type Client struct {
	token      string
	owner      string
	repo       string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new GitHub Actions client
func NewClient(token, owner, repo string) *Client {
	return &Client{
		token: token,
		owner: owner,
		repo:  repo,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: defaultBaseURL,
	}
}

func (c *Client) repoURL(format string, args ...any) string {
	return fmt.Sprintf("%s/repos/%s/%s", c.baseURL, c.owner, c.repo) + fmt.Sprintf(format, args...)
}

func (c *Client) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.TransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, provider.HTTPStatusError(resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) (http.Header, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Header, nil
}

// ListWorkflowRuns fetches one page of runs, newest first. An empty pageURL
// requests the first page; the returned next URL is empty on the last page.
func (c *Client) ListWorkflowRuns(ctx context.Context, pageURL string) ([]WorkflowRun, string, error) {
	if pageURL == "" {
		pageURL = c.repoURL("/actions/runs?per_page=%d", perPage)
	}

	var runsResp WorkflowRunsResponse
	header, err := c.getJSON(ctx, pageURL, &runsResp)
	if err != nil {
		return nil, "", err
	}

	return runsResp.WorkflowRuns, provider.NextLink(header.Get("Link")), nil
}

// ListDispatchedRuns fetches the newest manually dispatched runs of a workflow on a branch.
func (c *Client) ListDispatchedRuns(ctx context.Context, workflow, branch string) ([]WorkflowRun, error) {
	u := c.repoURL("/actions/workflows/%s/runs?event=workflow_dispatch&per_page=10&branch=%s",
		url.PathEscape(workflow), url.QueryEscape(branch))

	var runsResp WorkflowRunsResponse
	if _, err := c.getJSON(ctx, u, &runsResp); err != nil {
		return nil, err
	}
	return runsResp.WorkflowRuns, nil
}

// GetWorkflowRun fetches workflow run metadata
func (c *Client) GetWorkflowRun(ctx context.Context, runID int64) (*WorkflowRun, error) {
	var run WorkflowRun
	if _, err := c.getJSON(ctx, c.repoURL("/actions/runs/%d", runID), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetWorkflowJobs fetches jobs for a workflow run (handles pagination)
func (c *Client) GetWorkflowJobs(ctx context.Context, runID int64) ([]WorkflowJob, error) {
	var allJobs []WorkflowJob
	next := c.repoURL("/actions/runs/%d/jobs?per_page=%d", runID, perPage)

	for next != "" {
		var jobsResp WorkflowJobsResponse
		header, err := c.getJSON(ctx, next, &jobsResp)
		if err != nil {
			return nil, err
		}
		allJobs = append(allJobs, jobsResp.Jobs...)
		next = provider.NextLink(header.Get("Link"))
	}

	return allJobs, nil
}

// GetArtifacts fetches artifacts for a workflow run
func (c *Client) GetArtifacts(ctx context.Context, runID int64) ([]Artifact, error) {
	var artifactsResp ArtifactsResponse
	if _, err := c.getJSON(ctx, c.repoURL("/actions/runs/%d/artifacts?per_page=%d", runID, perPage), &artifactsResp); err != nil {
		return nil, err
	}
	return artifactsResp.Artifacts, nil
}

// DownloadArtifact downloads and extracts artifact zip
func (c *Client) DownloadArtifact(ctx context.Context, downloadURL string) (map[string][]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	zipData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact archive: %w", err)
	}

	files := make(map[string][]byte)
	for _, file := range zipReader.File {
		if file.FileInfo().IsDir() {
			continue
		}

		content, err := readZipFile(file)
		if err != nil {
			return nil, err
		}
		files[file.Name] = content
	}

	return files, nil
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// DispatchWorkflow queues a workflow_dispatch run of workflow on ref.
func (c *Client) DispatchWorkflow(ctx context.Context, workflow, ref string) error {
	resp, err := c.do(ctx, http.MethodPost, c.repoURL("/actions/workflows/%s/dispatches", url.PathEscape(workflow)),
		map[string]string{"ref": ref})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
