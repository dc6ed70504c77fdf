package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrAuthFailed     = errors.New("authentication failed")
	ErrBuildNotFound  = errors.New("build not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrNetworkTimeout = errors.New("network timeout")
	ErrNotModified    = errors.New("build not modified")
	ErrNotSupported   = errors.New("operation not supported by provider")
)

// TransportError marks a request that failed because it timed out.
// Other transport failures are returned unchanged.
func TransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}
	return err
}

// UserError wraps errors with user-friendly messages
type UserError struct {
	Message string
	Hint    string
	Err     error
}

func (e *UserError) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\n\nDetails: %v", e.Err)
	}
	return msg
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// WrapError converts API errors to user-friendly messages
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrInvalidURL) {
		return &UserError{
			Message: "Invalid build URL",
			Hint:    "Supported formats:\n  - https://buildkite.com/org/pipeline/builds/123\n  - https://github.com/owner/repo/actions/runs/456\n  - https://gitlab.com/group/project/-/pipelines/789",
			Err:     err,
		}
	}

	if errors.Is(err, ErrAuthFailed) {
		return &UserError{
			Message: "Authentication failed",
			Hint:    "Check that the token named by token_env in the servers file is set and has read access.\n  - Buildkite: BUILDKITE_API_TOKEN\n  - GitHub: GITHUB_TOKEN\n  - GitLab: GITLAB_TOKEN",
			Err:     err,
		}
	}

	if errors.Is(err, ErrBuildNotFound) {
		return &UserError{
			Message: "Build not found",
			Hint:    "Check that the build id is correct and the server entry points at the right repository.",
			Err:     err,
		}
	}

	if errors.Is(err, ErrRateLimited) {
		return &UserError{
			Message: "Rate limited by CI server",
			Hint:    "Lower BUILDWATCH_WORKERS or raise BUILDWATCH_ACTUALIZE_COOLDOWN.",
			Err:     err,
		}
	}

	if errors.Is(err, ErrNetworkTimeout) {
		return &UserError{
			Message: "CI server did not respond in time",
			Hint:    "Check network access to the server's base_url and retry.",
			Err:     err,
		}
	}

	if errors.Is(err, ErrProviderUnknown) {
		return &UserError{
			Message: "Unknown CI provider",
			Hint:    "The provider field in the servers file must be one of: buildkite, github, gitlab.",
			Err:     err,
		}
	}

	return err
}
