package display

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"buildwatch-agent/src/issue"
	"buildwatch-agent/src/provider"
)

func TestRenderer_History(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf, nil).History("ci on main", []provider.BuildRef{
		{ID: 42, BuildTypeID: "ci.yml", Branch: "main", State: provider.StateRunning, Status: provider.StatusUnknown},
		{ID: 41, BuildTypeID: "ci.yml", Branch: "main", State: provider.StateFinished, Status: provider.StatusFailure},
	})

	out := buf.String()
	assert.Contains(t, out, "ci on main")
	assert.Contains(t, out, "BUILD TYPE")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "FAILURE")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("42")), bytes.Index(buf.Bytes(), []byte("41")))
}

func TestRenderer_EmptyTables(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, nil)
	r.History("history", nil)
	r.Issues("issues", nil)

	assert.Contains(t, buf.String(), "no builds cached")
	assert.Contains(t, buf.String(), "no issues detected")
}

func TestRenderer_Build(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fb := &provider.FatBuild{
		ID:          7,
		BuildTypeID: "nightly",
		Branch:      "main",
		State:       provider.StateFinished,
		Status:      provider.StatusFailure,
		StartedAt:   start,
		FinishedAt:  start.Add(90 * time.Second),
		WebURL:      "https://ci.example/builds/7",
		Tests: []provider.TestOccurrence{
			{Name: "pkg.Stable", Status: provider.TestOK},
			{Name: "pkg.Breaks", Status: provider.TestFailure, Duration: 1500 * time.Millisecond},
			{Name: "pkg.Skipped", Status: provider.TestIgnored},
		},
		Problems: []provider.Problem{{Type: "timeout", Description: "job exceeded 60m", Critical: true}},
	}

	var buf bytes.Buffer
	NewRenderer(&buf, nil).Build(fb, false)
	out := buf.String()

	assert.Contains(t, out, "nightly #7")
	assert.Contains(t, out, "duration: 1m30s")
	assert.Contains(t, out, "3 total, 1 failed, 1 ignored")
	assert.Contains(t, out, "timeout: job exceeded 60m")
	assert.Contains(t, out, "pkg.Breaks")
	assert.Contains(t, out, "pkg.Skipped")
	assert.NotContains(t, out, "pkg.Stable")

	buf.Reset()
	NewRenderer(&buf, nil).Build(fb, true)
	assert.Contains(t, buf.String(), "pkg.Stable")
}

func TestRenderer_Issues(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf, nil).Issues("issues", []issue.Event{
		{Type: issue.NewFailure, TestName: "pkg.Zeta", DetectedAt: 12},
		{Type: issue.NewCriticalFailure, TestName: "pkg.Alpha", DetectedAt: 10},
		{Type: issue.NewFailure, TestName: "pkg.Beta", DetectedAt: 11},
	})
	out := buf.String()

	assert.Contains(t, out, issue.NewFailure.DisplayName())
	assert.Contains(t, out, issue.NewCriticalFailure.DisplayName())
	beta := bytes.Index(buf.Bytes(), []byte("pkg.Beta"))
	zeta := bytes.Index(buf.Bytes(), []byte("pkg.Zeta"))
	assert.Less(t, beta, zeta)
}

func TestStyleConfig_BuildStyle(t *testing.T) {
	s := DefaultStyles()
	assert.Equal(t, s.Running, s.BuildStyle(provider.StateQueued, provider.StatusUnknown).GetForeground())
	assert.Equal(t, s.Success, s.BuildStyle(provider.StateFinished, provider.StatusSuccess).GetForeground())
	assert.Equal(t, s.Failure, s.BuildStyle(provider.StateFinished, provider.StatusError).GetForeground())
	assert.Equal(t, s.TextPrimary, s.BuildStyle(provider.StateFinished, provider.StatusUnknown).GetForeground())
}
