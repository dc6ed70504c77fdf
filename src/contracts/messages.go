// Package contracts defines the messages buildwatch publishes for other agents.
package contracts

// IssueEvent is a detected shift in a test's outcomes.
// Published to: buildwatch.issues
// Key: {id}
type IssueEvent struct {
	// Identity, stable across re-detections of the same shift.
	ID string `json:"id"`
	// Server the history was read from.
	ServerID string `json:"server_id"`

	// Issue classification (e.g. "newFailure") and its display name.
	IssueType   string `json:"issue_type"`
	DisplayName string `json:"display_name"`

	// Where the test ran.
	BuildTypeID string `json:"build_type_id"`
	Branch      string `json:"branch"`
	TestName    string `json:"test_name"`

	// Matched window, oldest first, and the builds of the after segment.
	BuildIDs       []int64 `json:"build_ids"`
	FailedBuildIDs []int64 `json:"failed_build_ids"`
	DetectedAt     int64   `json:"detected_at"`

	WebURL    string `json:"web_url,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SyncSummary reports the outcome of one scan of a server.
// Published to: buildwatch.sync
// Key: {server_id}
type SyncSummary struct {
	ServerID       string  `json:"server_id"`
	FullReindex    bool    `json:"full_reindex"`
	Saved          int     `json:"saved"`
	Checked        int     `json:"checked"`
	NeededToFind   int     `json:"needed_to_find"`
	RemainedToFind int     `json:"remained_to_find"`
	Unresolved     []int64 `json:"unresolved,omitempty"`
	Error          string  `json:"error,omitempty"`
	Timestamp      string  `json:"timestamp"`
}

// Topic names
const (
	// TopicIssues carries IssueEvent records
	TopicIssues = "buildwatch.issues"

	// TopicSyncSummaries carries SyncSummary records
	TopicSyncSummaries = "buildwatch.sync"
)
