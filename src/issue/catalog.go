package issue

// IssueType identifies a kind of detected issue.
type IssueType string

const (
	NewFailure                IssueType = "newFailure"
	NewContributedTestFailure IssueType = "newContributedTestFailure"
	NewFailureForFlakyTest    IssueType = "newFailureForFlakyTest"
	NewCriticalFailure        IssueType = "newCriticalFailure"
	NewTrustedSuiteFailure    IssueType = "newTrustedSuiteFailure"
)

var displayNames = map[IssueType]string{
	NewFailure:                "New test failure",
	NewContributedTestFailure: "Recently contributed test failed",
	NewFailureForFlakyTest:    "New stable failure of a flaky test",
	NewCriticalFailure:        "New Critical Failure",
	NewTrustedSuiteFailure:    "New Trusted Suite failure",
}

// DisplayName returns the human-readable name of the issue type.
func (t IssueType) DisplayName() string {
	if name, ok := displayNames[t]; ok {
		return name
	}
	return string(t)
}

// Built-in templates.
var (
	NewFailureTemplate = NewEventTemplate(NewFailure,
		repeatSet(OnlyOK, 5),
		repeatStatus(RunFailure, 4),
	)

	NewCriticalFailureTemplate = NewEventTemplate(NewCriticalFailure,
		repeatSet(OKOrFailure, 5),
		repeatStatus(RunCriticalFailure, 4),
	)

	NewContributedTestFailureTemplate = NewEventTemplate(NewContributedTestFailure,
		repeatSet(OnlyMissing, 4),
		repeatStatus(RunFailure, 4),
		IncludeMissing(),
		OnlyForFirstNonMissing(),
	)

	NewFailureForFlakyTestTemplate = NewEventTemplate(NewFailureForFlakyTest,
		repeatSet(OnlyOK, 5),
		repeatStatus(RunFailure, 8),
	)
)

// DefaultTemplates returns the built-in templates in reporting order.
func DefaultTemplates() []*EventTemplate {
	return []*EventTemplate{
		NewFailureTemplate,
		NewCriticalFailureTemplate,
		NewContributedTestFailureTemplate,
		NewFailureForFlakyTestTemplate,
	}
}
