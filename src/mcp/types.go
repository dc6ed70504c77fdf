// Package mcp exposes the cached build history and issue detector as MCP tools.
package mcp

// HistoryResponse is the get_build_history result.
type HistoryResponse struct {
	Server    string     `json:"server"`
	BuildType string     `json:"build_type"`
	Branch    string     `json:"branch"`
	Total     int        `json:"total"`
	Builds    []BuildRow `json:"builds"`
}

// BuildRow is one cached build reference.
type BuildRow struct {
	ID     int64  `json:"id"`
	State  string `json:"state"`
	Status string `json:"status"`
	Branch string `json:"branch"`
}

// BuildDetail is the get_build result.
type BuildDetail struct {
	Server      string        `json:"server"`
	ID          int64         `json:"id"`
	BuildType   string        `json:"build_type"`
	Branch      string        `json:"branch"`
	State       string        `json:"state"`
	Status      string        `json:"status"`
	WebURL      string        `json:"web_url,omitempty"`
	StartedAt   string        `json:"started_at,omitempty"`
	FinishedAt  string        `json:"finished_at,omitempty"`
	TestsTotal  int           `json:"tests_total"`
	TestsFailed []string      `json:"tests_failed"`
	Problems    []ProblemInfo `json:"problems"`
}

// ProblemInfo is a build-level problem.
type ProblemInfo struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Critical    bool   `json:"critical"`
}

// IssuesResponse is the detect_issues result.
type IssuesResponse struct {
	Server    string      `json:"server"`
	BuildType string      `json:"build_type"`
	Branch    string      `json:"branch"`
	Issues    []IssueInfo `json:"issues"`
}

// IssueInfo is one detected issue.
type IssueInfo struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	DisplayName    string  `json:"display_name"`
	TestName       string  `json:"test_name"`
	DetectedAt     int64   `json:"detected_at"`
	FailedBuildIDs []int64 `json:"failed_build_ids"`
}

// ActualizeResponse is the actualize result.
type ActualizeResponse struct {
	Server         string  `json:"server"`
	FullReindex    bool    `json:"full_reindex"`
	Saved          int     `json:"saved"`
	Checked        int     `json:"checked"`
	Pages          int     `json:"pages"`
	RemainedToFind int     `json:"remained_to_find"`
	Unresolved     []int64 `json:"unresolved,omitempty"`
}
