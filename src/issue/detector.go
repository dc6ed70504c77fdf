package issue

import (
	"fmt"

	"github.com/google/uuid"
)

var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("buildwatch/issue-event"))

// Event is one template match for one test.
type Event struct {
	Type     IssueType
	TestName string
	// BuildIDs is the matched window, oldest first.
	BuildIDs []int64
	// FailedBuildIDs is the after segment of the window.
	FailedBuildIDs []int64
	// DetectedAt is the first build of the after segment.
	DetectedAt int64
}

// ID derives a stable identifier for the event within scope, typically a server id.
// Re-detecting the same shift yields the same id.
func (e Event) ID(scope string) string {
	key := fmt.Sprintf("%s|%s|%s|%d", scope, e.Type, e.TestName, e.DetectedAt)
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}

// Detector matches outcome sequences against a set of templates.
// It holds no state between calls.
type Detector struct {
	templates []*EventTemplate
}

// NewDetector creates a detector. With no templates it uses DefaultTemplates.
func NewDetector(templates ...*EventTemplate) *Detector {
	if len(templates) == 0 {
		templates = DefaultTemplates()
	}
	return &Detector{templates: templates}
}

// Detect returns every template that matches the runs of one test.
// runs are ordered oldest to newest.
func (d *Detector) Detect(testName string, runs []Run) []Event {
	var events []Event
	for _, t := range d.templates {
		window, ok := t.Match(runs)
		if !ok {
			continue
		}

		ids := make([]int64, len(window))
		for i, r := range window {
			ids[i] = r.BuildID
		}
		failed := ids[len(t.before):]

		events = append(events, Event{
			Type:           t.Type(),
			TestName:       testName,
			BuildIDs:       ids,
			FailedBuildIDs: failed,
			DetectedAt:     failed[0],
		})
	}
	return events
}
