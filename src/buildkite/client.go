// Package buildkite provides a client for interacting with the Buildkite API.
package buildkite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"buildwatch-agent/src/provider"
)

const (
	// APIBaseURL is the base URL for the Buildkite API.
	APIBaseURL = "https://api.buildkite.com/v2"

	perPage = 100
)

// Client is a Buildkite API client scoped to one pipeline.
type Client struct {
	apiToken   string
	org        string
	pipeline   string
	baseURL    string
	httpClient *http.Client
}

// Build represents a Buildkite build.
type Build struct {
	ID          string     `json:"id"`
	Number      int64      `json:"number"`
	State       string     `json:"state"`
	Branch      string     `json:"branch"`
	WebURL      string     `json:"web_url"`
	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Jobs        []Job      `json:"jobs"`
}

// Job represents a Buildkite job within a build.
type Job struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	State      string `json:"state"`
	ExitStatus *int   `json:"exit_status"`
}

// Artifact represents a build artifact.
type Artifact struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	Path        string `json:"path"`
	DownloadURL string `json:"download_url"`
	FileSize    int64  `json:"file_size"`
}

// CreateBuildRequest is the body of a new build request.
type CreateBuildRequest struct {
	Commit        string `json:"commit"`
	Branch        string `json:"branch"`
	Message       string `json:"message,omitempty"`
	CleanCheckout bool   `json:"clean_checkout,omitempty"`
}

// NewClient creates a new Buildkite API client.
func NewClient(apiToken, org, pipeline string) *Client {
	return &Client{
		apiToken: apiToken,
		org:      org,
		pipeline: pipeline,
		baseURL:  APIBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) pipelineURL(format string, args ...any) string {
	return fmt.Sprintf("%s/organizations/%s/pipelines/%s", c.baseURL, c.org, c.pipeline) + fmt.Sprintf(format, args...)
}

func (c *Client) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiToken))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", provider.TransportError(err))
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

// ListBuilds fetches one page of builds, newest first. An empty pageURL
// requests the first page; the returned next URL is empty on the last page.
func (c *Client) ListBuilds(ctx context.Context, pageURL string) ([]Build, string, error) {
	if pageURL == "" {
		pageURL = c.pipelineURL("/builds?per_page=%d&exclude_jobs=true", perPage)
	}

	var builds []Build
	header, err := c.getJSON(ctx, pageURL, &builds)
	if err != nil {
		return nil, "", err
	}
	return builds, provider.NextLink(header.Get("Link")), nil
}

// GetBuild fetches a build with its jobs.
func (c *Client) GetBuild(ctx context.Context, number int64) (*Build, error) {
	var build Build
	if _, err := c.getJSON(ctx, c.pipelineURL("/builds/%d", number), &build); err != nil {
		return nil, err
	}
	return &build, nil
}

// GetBuildArtifacts fetches every artifact uploaded by a build's jobs.
func (c *Client) GetBuildArtifacts(ctx context.Context, number int64) ([]Artifact, error) {
	var all []Artifact
	next := c.pipelineURL("/builds/%d/artifacts?per_page=%d", number, perPage)

	for next != "" {
		var page []Artifact
		header, err := c.getJSON(ctx, next, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		next = provider.NextLink(header.Get("Link"))
	}

	return all, nil
}

// DownloadArtifact downloads the content of an artifact by its download URL.
func (c *Client) DownloadArtifact(ctx context.Context, downloadURL string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact content: %w", err)
	}

	return data, nil
}

// CreateBuild queues a new build of the pipeline.
func (c *Client) CreateBuild(ctx context.Context, req CreateBuildRequest) (*Build, error) {
	resp, err := c.do(ctx, http.MethodPost, c.pipelineURL("/builds"), req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var build Build
	if err := json.NewDecoder(resp.Body).Decode(&build); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &build, nil
}
