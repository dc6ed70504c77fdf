// Package issue classifies per-test outcome sequences into issue events.
package issue

import "strings"

// RunStatus is the outcome of one test in one build.
type RunStatus uint8

const (
	RunOK RunStatus = iota
	RunFailure
	RunCriticalFailure
	RunMissing
)

var runStatusNames = [...]string{"OK", "FAILURE", "CRITICAL_FAILURE", "MISSING"}

func (s RunStatus) String() string {
	if int(s) < len(runStatusNames) {
		return runStatusNames[s]
	}
	return "UNKNOWN"
}

// StatusSet is a set of accepted outcomes for one template position.
type StatusSet uint8

// Of builds a set from outcomes.
func Of(statuses ...RunStatus) StatusSet {
	var s StatusSet
	for _, st := range statuses {
		s |= 1 << st
	}
	return s
}

// Accepted sets used by the built-in templates.
var (
	OnlyOK      = Of(RunOK)
	OnlyMissing = Of(RunMissing)
	OKOrFailure = Of(RunOK, RunFailure)
)

// Has reports whether st is in the set.
func (s StatusSet) Has(st RunStatus) bool {
	return s&(1<<st) != 0
}

func (s StatusSet) String() string {
	var parts []string
	for st := RunOK; st <= RunMissing; st++ {
		if s.Has(st) {
			parts = append(parts, st.String())
		}
	}
	return strings.Join(parts, "|")
}
