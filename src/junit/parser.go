// Package junit parses JUnit XML reports into per-test outcomes.
package junit

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"buildwatch-agent/src/provider"
)

// TestSuites is the root element for multiple test suites.
type TestSuites struct {
	XMLName    xml.Name    `xml:"testsuites"`
	TestSuites []TestSuite `xml:"testsuite"`
}

// TestSuite represents a <testsuite> element.
type TestSuite struct {
	Name      string      `xml:"name,attr"`
	Tests     int         `xml:"tests,attr"`
	Failures  int         `xml:"failures,attr"`
	Errors    int         `xml:"errors,attr"`
	Skipped   int         `xml:"skipped,attr"`
	Time      float64     `xml:"time,attr"`
	TestCases []TestCase  `xml:"testcase"`
	Suites    []TestSuite `xml:"testsuite"`
}

// TestCase represents a <testcase> element.
type TestCase struct {
	Name      string   `xml:"name,attr"`
	ClassName string   `xml:"classname,attr"`
	Time      float64  `xml:"time,attr"`
	Failure   *Message `xml:"failure"`
	Error     *Message `xml:"error"`
	Skipped   *Message `xml:"skipped"`
}

// Message is the body of a <failure>, <error> or <skipped> element.
type Message struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// Result is the outcome of one test case.
type Result struct {
	Name     string
	Status   provider.TestStatus
	Duration time.Duration
	Message  string
}

// Parse reads a JUnit report and returns one result per test case.
// Both <testsuites> and bare <testsuite> roots are accepted.
func Parse(data []byte) ([]Result, error) {
	var suites TestSuites
	if err := xml.Unmarshal(data, &suites); err == nil && len(suites.TestSuites) > 0 {
		return collect(suites.TestSuites), nil
	}

	var suite TestSuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse JUnit XML: %w", err)
	}

	return collect([]TestSuite{suite}), nil
}

func collect(suites []TestSuite) []Result {
	var results []Result
	for _, suite := range suites {
		results = append(results, collect(suite.Suites)...)
		for _, tc := range suite.TestCases {
			results = append(results, resultOf(suite.Name, tc))
		}
	}
	return results
}

func resultOf(suiteName string, tc TestCase) Result {
	r := Result{
		Name:     QualifiedName(suiteName, tc.ClassName, tc.Name),
		Status:   provider.TestOK,
		Duration: time.Duration(tc.Time * float64(time.Second)),
	}

	switch {
	case tc.Failure != nil:
		r.Status = provider.TestFailure
		r.Message = firstNonEmpty(tc.Failure.Message, tc.Failure.Content)
	case tc.Error != nil:
		r.Status = provider.TestFailure
		r.Message = firstNonEmpty(tc.Error.Message, tc.Error.Content)
	case tc.Skipped != nil:
		r.Status = provider.TestIgnored
		r.Message = tc.Skipped.Message
	}

	return r
}

// QualifiedName builds a stable test identity. The class name is preferred
// over the suite name since suites are often just file paths.
func QualifiedName(suiteName, className, testName string) string {
	switch {
	case className != "":
		return className + "." + testName
	case suiteName != "":
		return suiteName + "." + testName
	default:
		return testName
	}
}

// Occurrences converts results to test occurrences. When the same test is
// reported more than once (retries, split reports) a failure wins over a
// pass and a pass wins over an ignore. Output is sorted by name.
func Occurrences(results []Result) []provider.TestOccurrence {
	byName := make(map[string]provider.TestOccurrence, len(results))
	for _, r := range results {
		occ := provider.TestOccurrence{Name: r.Name, Status: r.Status, Duration: r.Duration}
		prev, ok := byName[r.Name]
		if !ok || rank(occ.Status) > rank(prev.Status) {
			byName[r.Name] = occ
		}
	}

	out := make([]provider.TestOccurrence, 0, len(byName))
	for _, occ := range byName {
		out = append(out, occ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func rank(s provider.TestStatus) int {
	switch s {
	case provider.TestFailure:
		return 2
	case provider.TestOK:
		return 1
	default:
		return 0
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
