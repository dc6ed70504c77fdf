package display

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"buildwatch-agent/src/issue"
	"buildwatch-agent/src/provider"
)

// Column widths.
const (
	idWidth        = 10
	stateWidth     = 9
	statusWidth    = 8
	branchWidth    = 24
	buildTypeWidth = 24
	testWidth      = 60
	issueWidth     = 34
)

// Renderer writes styled tables.
type Renderer struct {
	w      io.Writer
	styles *StyleConfig
}

// NewRenderer creates a renderer that writes to w.
func NewRenderer(w io.Writer, styles *StyleConfig) *Renderer {
	if styles == nil {
		styles = DefaultStyles()
	}
	return &Renderer{w: w, styles: styles}
}

func (r *Renderer) println(s string) {
	fmt.Fprintln(r.w, s)
}

func (r *Renderer) header(cols ...string) {
	r.println(r.styles.HeaderStyle().Render(strings.Join(cols, " ")))
}

// History renders build references, newest first.
func (r *Renderer) History(title string, refs []provider.BuildRef) {
	r.println(r.styles.TitleStyle().Render(title))
	if len(refs) == 0 {
		r.println(r.styles.MutedStyle().Render("no builds cached"))
		return
	}

	r.header(
		TruncateAndPad("ID", idWidth, false),
		TruncateAndPad("STATE", stateWidth, false),
		TruncateAndPad("STATUS", statusWidth, false),
		TruncateAndPad("BUILD TYPE", buildTypeWidth, false),
		"BRANCH",
	)
	for _, ref := range refs {
		style := r.styles.BuildStyle(ref.State, ref.Status)
		r.println(strings.Join([]string{
			TruncateAndPad(strconv.FormatInt(ref.ID, 10), idWidth, false),
			style.Render(TruncateAndPad(string(ref.State), stateWidth, false)),
			style.Render(TruncateAndPad(ref.Status, statusWidth, false)),
			TruncateAndPad(ref.BuildTypeID, buildTypeWidth, true),
			Truncate(ref.Branch, branchWidth, true),
		}, " "))
	}
}

// Build renders one build with its problems and non-passing tests.
// With allTests set, passing tests are listed too.
func (r *Renderer) Build(fb *provider.FatBuild, allTests bool) {
	style := r.styles.BuildStyle(fb.State, fb.Status)

	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d  %s\n", fb.BuildTypeID, fb.ID, style.Render(fmt.Sprintf("%s %s", fb.State, fb.Status)))
	fmt.Fprintf(&b, "branch:   %s\n", fb.Branch)
	if !fb.StartedAt.IsZero() {
		fmt.Fprintf(&b, "started:  %s\n", fb.StartedAt.UTC().Format(time.RFC3339))
	}
	if !fb.FinishedAt.IsZero() && !fb.StartedAt.IsZero() {
		fmt.Fprintf(&b, "duration: %s\n", fb.FinishedAt.Sub(fb.StartedAt).Round(time.Second))
	}
	if fb.WebURL != "" {
		fmt.Fprintf(&b, "url:      %s\n", fb.WebURL)
	}
	fmt.Fprintf(&b, "tests:    %s", testCounts(fb.Tests))
	r.println(r.styles.PanelStyle().Render(b.String()))

	if len(fb.Problems) > 0 {
		r.println(r.styles.TitleStyle().Render("Problems"))
		for _, p := range fb.Problems {
			marker := "-"
			if p.Critical {
				marker = r.styles.TestStyle(provider.TestFailure).Render("!")
			}
			line := p.Type
			if p.Description != "" {
				line += ": " + p.Description
			}
			for i, l := range strings.Split(Wrap(line, testWidth+20), "\n") {
				if i == 0 {
					r.println(marker + " " + l)
				} else {
					r.println("  " + l)
				}
			}
		}
	}

	var tests []provider.TestOccurrence
	for _, t := range fb.Tests {
		if allTests || t.Status != provider.TestOK {
			tests = append(tests, t)
		}
	}
	if len(tests) == 0 {
		return
	}
	r.println(r.styles.TitleStyle().Render("Tests"))
	for _, t := range tests {
		r.println(strings.Join([]string{
			r.styles.TestStyle(t.Status).Render(TruncateAndPad(string(t.Status), statusWidth, false)),
			TruncateAndPad(t.Name, testWidth, true),
			r.styles.MutedStyle().Render(t.Duration.Round(time.Millisecond).String()),
		}, " "))
	}
}

func testCounts(tests []provider.TestOccurrence) string {
	counts := make(map[provider.TestStatus]int)
	for _, t := range tests {
		counts[t.Status]++
	}
	return fmt.Sprintf("%d total, %d failed, %d ignored", len(tests), counts[provider.TestFailure], counts[provider.TestIgnored])
}

// Issues renders detected issues grouped by type.
func (r *Renderer) Issues(title string, events []issue.Event) {
	r.println(r.styles.TitleStyle().Render(title))
	if len(events) == 0 {
		r.println(r.styles.MutedStyle().Render("no issues detected"))
		return
	}

	sorted := append([]issue.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].TestName < sorted[j].TestName
	})

	r.header(
		TruncateAndPad("ISSUE", issueWidth, false),
		TruncateAndPad("SINCE", idWidth, false),
		"TEST",
	)
	failure := r.styles.TestStyle(provider.TestFailure)
	for _, e := range sorted {
		r.println(strings.Join([]string{
			failure.Render(TruncateAndPad(e.Type.DisplayName(), issueWidth, true)),
			TruncateAndPad(strconv.FormatInt(e.DetectedAt, 10), idWidth, false),
			Truncate(e.TestName, testWidth, true),
		}, " "))
	}
}
