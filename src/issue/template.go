package issue

import "fmt"

// Run is one test outcome in one build.
type Run struct {
	BuildID int64
	Status  RunStatus
}

// EventTemplate describes a shift in a test's outcomes: a before segment of
// accepted outcomes followed by an after segment of exact outcomes that ends
// at the most recent run.
type EventTemplate struct {
	issueType              IssueType
	before                 []StatusSet
	after                  []RunStatus
	includeMissing         bool
	onlyForFirstNonMissing bool
}

// TemplateOption configures an EventTemplate.
type TemplateOption func(*EventTemplate)

// IncludeMissing makes "no result" a matchable outcome; without it missing
// runs are dropped before matching.
func IncludeMissing() TemplateOption {
	return func(t *EventTemplate) { t.includeMissing = true }
}

// OnlyForFirstNonMissing requires the after segment to begin at the test's
// first recorded result.
func OnlyForFirstNonMissing() TemplateOption {
	return func(t *EventTemplate) { t.onlyForFirstNonMissing = true }
}

// NewEventTemplate builds a template and panics if it is malformed.
func NewEventTemplate(issueType IssueType, before []StatusSet, after []RunStatus, opts ...TemplateOption) *EventTemplate {
	t := &EventTemplate{
		issueType: issueType,
		before:    append([]StatusSet(nil), before...),
		after:     append([]RunStatus(nil), after...),
	}
	for _, opt := range opts {
		opt(t)
	}

	if len(t.before) == 0 || len(t.after) == 0 {
		panic(fmt.Sprintf("issue: template %s needs non-empty before and after segments", issueType))
	}
	for i, set := range t.before {
		if set == 0 {
			panic(fmt.Sprintf("issue: template %s before[%d] accepts nothing", issueType, i))
		}
		if set.Has(RunMissing) && !t.includeMissing {
			panic(fmt.Sprintf("issue: template %s before[%d] accepts MISSING without IncludeMissing", issueType, i))
		}
	}
	for i, st := range t.after {
		if st >= RunMissing {
			panic(fmt.Sprintf("issue: template %s after[%d] must be a concrete outcome, got %s", issueType, i, st))
		}
	}
	if t.onlyForFirstNonMissing && !t.includeMissing {
		panic(fmt.Sprintf("issue: template %s uses OnlyForFirstNonMissing without IncludeMissing", issueType))
	}

	return t
}

// Type returns the issue type the template reports.
func (t *EventTemplate) Type() IssueType {
	return t.issueType
}

// Len is the number of runs the template spans.
func (t *EventTemplate) Len() int {
	return len(t.before) + len(t.after)
}

// Match checks the most recent runs against the template. runs are ordered
// oldest to newest. On a match it returns the matched window.
func (t *EventTemplate) Match(runs []Run) ([]Run, bool) {
	seq := runs
	if !t.includeMissing {
		seq = make([]Run, 0, len(runs))
		for _, r := range runs {
			if r.Status != RunMissing {
				seq = append(seq, r)
			}
		}
	}

	n := t.Len()
	if len(seq) < n {
		return nil, false
	}
	start := len(seq) - n
	window := seq[start:]

	if t.onlyForFirstNonMissing {
		first := -1
		for i, r := range seq {
			if r.Status != RunMissing {
				first = i
				break
			}
		}
		if first != start+len(t.before) {
			return nil, false
		}
	}

	for i, set := range t.before {
		if !set.Has(window[i].Status) {
			return nil, false
		}
	}
	for j, st := range t.after {
		if window[len(t.before)+j].Status != st {
			return nil, false
		}
	}

	return window, true
}

func repeatSet(set StatusSet, n int) []StatusSet {
	out := make([]StatusSet, n)
	for i := range out {
		out[i] = set
	}
	return out
}

func repeatStatus(st RunStatus, n int) []RunStatus {
	out := make([]RunStatus, n)
	for i := range out {
		out[i] = st
	}
	return out
}
