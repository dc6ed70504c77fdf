package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	ErrInvalidURL      = errors.New("invalid build URL")
	ErrProviderUnknown = errors.New("unknown CI provider")
)

// Source is a remote CI server that can be synchronized.
type Source interface {
	// Name returns the provider name (e.g., "buildkite", "github", "gitlab")
	Name() string

	// Host identifies the server instance, used for logging and task names
	Host() string

	// GetBuildRefsPage fetches one page of build references, newest first.
	// An empty cursor requests the first page. An empty next cursor means
	// there are no further pages.
	GetBuildRefsPage(ctx context.Context, cursor string) (refs []BuildRef, next string, err error)

	// GetFullBuild fetches full build detail. When prev is non-nil and the
	// remote build has not changed since, it returns ErrNotModified.
	GetFullBuild(ctx context.Context, id int64, prev *FatBuild) (*FatBuild, error)

	// TriggerBuild queues a new build and returns its reference
	TriggerBuild(ctx context.Context, buildTypeID, branch string, cleanRebuild, queueAtTop bool) (*BuildRef, error)
}

// BuildLocator identifies a build by its web URL.
type BuildLocator struct {
	Provider string            // "buildkite", "github" or "gitlab"
	BuildID  int64             // Provider build identifier
	Metadata map[string]string // Provider-specific coordinates
}

var (
	buildkiteURLPattern = regexp.MustCompile(`^https://buildkite\.com/([^/]+)/([^/]+)/builds/(\d+)`)
	githubURLPattern    = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/actions/runs/(\d+)`)
	gitlabURLPattern    = regexp.MustCompile(`^(https://[^/]+)/(.+)/-/pipelines/(\d+)`)
)

// ParseURL detects the provider and build id from a build web URL.
func ParseURL(url string) (*BuildLocator, error) {
	if matches := buildkiteURLPattern.FindStringSubmatch(url); matches != nil {
		return newLocator("buildkite", matches[3], map[string]string{
			"org":      matches[1],
			"pipeline": matches[2],
		})
	}

	if matches := githubURLPattern.FindStringSubmatch(url); matches != nil {
		return newLocator("github", matches[3], map[string]string{
			"owner": matches[1],
			"repo":  matches[2],
		})
	}

	if matches := gitlabURLPattern.FindStringSubmatch(url); matches != nil {
		return newLocator("gitlab", matches[3], map[string]string{
			"base_url": matches[1],
			"project":  matches[2],
		})
	}

	return nil, fmt.Errorf("%w: %s", ErrInvalidURL, url)
}

func newLocator(name, rawID string, meta map[string]string) (*BuildLocator, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: build id %q: %v", ErrInvalidURL, rawID, err)
	}
	return &BuildLocator{Provider: name, BuildID: id, Metadata: meta}, nil
}

// Matches reports whether the locator points at the server described by spec.
func (l *BuildLocator) Matches(spec ServerSpec) bool {
	if l.Provider != spec.Provider {
		return false
	}
	switch l.Provider {
	case "buildkite":
		return l.Metadata["org"] == spec.Org && l.Metadata["pipeline"] == spec.Pipeline
	case "github":
		return l.Metadata["owner"] == spec.Owner && l.Metadata["repo"] == spec.Repo
	case "gitlab":
		return l.Metadata["project"] == spec.Project
	}
	return false
}
