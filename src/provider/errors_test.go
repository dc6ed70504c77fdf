package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestWrapError_UserFacing(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage string
		wantHint    []string
		sentinel    error
	}{
		{
			name:        "invalid URL",
			err:         fmt.Errorf("%w: https://invalid.com", ErrInvalidURL),
			wantMessage: "Invalid build URL",
			wantHint:    []string{"Supported formats", "buildkite.com", "github.com", "/-/pipelines/"},
			sentinel:    ErrInvalidURL,
		},
		{
			name:        "auth sentinel",
			err:         ErrAuthFailed,
			wantMessage: "Authentication failed",
			wantHint:    []string{"token_env", "BUILDKITE_API_TOKEN", "GITHUB_TOKEN", "GITLAB_TOKEN"},
			sentinel:    ErrAuthFailed,
		},
		{
			name:        "auth from HTTP status",
			err:         HTTPStatusError(401, "bad credentials"),
			wantMessage: "Authentication failed",
			wantHint:    []string{"token_env"},
			sentinel:    ErrAuthFailed,
		},
		{
			name:        "wrapped not found",
			err:         fmt.Errorf("get run: %w", ErrBuildNotFound),
			wantMessage: "Build not found",
			wantHint:    []string{"build id is correct"},
			sentinel:    ErrBuildNotFound,
		},
		{
			name:        "rate limited from HTTP status",
			err:         HTTPStatusError(429, "slow down"),
			wantMessage: "Rate limited by CI server",
			wantHint:    []string{"BUILDWATCH_WORKERS"},
			sentinel:    ErrRateLimited,
		},
		{
			name:        "unknown provider",
			err:         fmt.Errorf("%w: jenkins", ErrProviderUnknown),
			wantMessage: "Unknown CI provider",
			wantHint:    []string{"buildkite, github, gitlab"},
			sentinel:    ErrProviderUnknown,
		},
		{
			name:        "network timeout",
			err:         fmt.Errorf("%w: dial tcp: i/o timeout", ErrNetworkTimeout),
			wantMessage: "CI server did not respond in time",
			wantHint:    []string{"base_url"},
			sentinel:    ErrNetworkTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapError(tt.err)

			userErr, ok := wrapped.(*UserError)
			if !ok {
				t.Fatalf("WrapError() returned %T, want *UserError", wrapped)
			}

			if userErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", userErr.Message, tt.wantMessage)
			}

			for _, want := range tt.wantHint {
				if !strings.Contains(userErr.Hint, want) {
					t.Errorf("Hint should contain %q, got %q", want, userErr.Hint)
				}
			}

			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(wrapped, %v) = false, want true", tt.sentinel)
			}
		})
	}
}

func TestWrapError_OtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "not modified",
			err:  ErrNotModified,
		},
		{
			name: "generic error",
			err:  errors.New("something went wrong"),
		},
		{
			name: "500 from HTTP status",
			err:  HTTPStatusError(500, "internal"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapError(tt.err)

			if wrapped != tt.err {
				t.Errorf("WrapError() = %v, want original error %v", wrapped, tt.err)
			}

			if _, ok := wrapped.(*UserError); ok {
				t.Error("WrapError() returned *UserError, want original error unchanged")
			}
		})
	}
}

func TestWrapError_NilError(t *testing.T) {
	if wrapped := WrapError(nil); wrapped != nil {
		t.Errorf("WrapError(nil) = %v, want nil", wrapped)
	}
}

func TestUserError_Error(t *testing.T) {
	tests := []struct {
		name     string
		userErr  *UserError
		wantMsg  string
		wantHint string
		wantErr  string
	}{
		{
			name: "message only",
			userErr: &UserError{
				Message: "Something went wrong",
			},
			wantMsg: "Something went wrong",
		},
		{
			name: "message with hint",
			userErr: &UserError{
				Message: "Something went wrong",
				Hint:    "Try doing this instead",
			},
			wantMsg:  "Something went wrong",
			wantHint: "Hint: Try doing this instead",
		},
		{
			name: "message with underlying error",
			userErr: &UserError{
				Message: "Something went wrong",
				Err:     errors.New("original error"),
			},
			wantMsg: "Something went wrong",
			wantErr: "Details: original error",
		},
		{
			name: "message with hint and error",
			userErr: &UserError{
				Message: "Something went wrong",
				Hint:    "Try doing this instead",
				Err:     errors.New("original error"),
			},
			wantMsg:  "Something went wrong",
			wantHint: "Hint: Try doing this instead",
			wantErr:  "Details: original error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.userErr.Error()

			if !strings.Contains(got, tt.wantMsg) {
				t.Errorf("Error() should contain %q, got %q", tt.wantMsg, got)
			}

			if tt.wantHint != "" && !strings.Contains(got, tt.wantHint) {
				t.Errorf("Error() should contain %q, got %q", tt.wantHint, got)
			}

			if tt.wantErr != "" && !strings.Contains(got, tt.wantErr) {
				t.Errorf("Error() should contain %q, got %q", tt.wantErr, got)
			}

			// Check order: Message first
			msgIdx := strings.Index(got, tt.wantMsg)
			if msgIdx != 0 {
				t.Errorf("Message should be at start, found at index %d", msgIdx)
			}

			// If hint exists, it should come after message
			if tt.wantHint != "" {
				hintIdx := strings.Index(got, tt.wantHint)
				if hintIdx <= msgIdx {
					t.Errorf("Hint should come after Message, got hint at %d, msg at %d", hintIdx, msgIdx)
				}
			}

			// If error exists, it should come after hint (if present) or message
			if tt.wantErr != "" {
				errIdx := strings.Index(got, tt.wantErr)
				if tt.wantHint != "" {
					hintIdx := strings.Index(got, tt.wantHint)
					if errIdx <= hintIdx {
						t.Errorf("Details should come after Hint, got details at %d, hint at %d", errIdx, hintIdx)
					}
				} else if errIdx <= msgIdx {
					t.Errorf("Details should come after Message, got details at %d, msg at %d", errIdx, msgIdx)
				}
			}
		})
	}
}

func TestUserError_Unwrap(t *testing.T) {
	tests := []struct {
		name    string
		userErr *UserError
		want    error
	}{
		{
			name: "with underlying error",
			userErr: &UserError{
				Message: "Something went wrong",
				Err:     ErrAuthFailed,
			},
			want: ErrAuthFailed,
		},
		{
			name: "without underlying error",
			userErr: &UserError{
				Message: "Something went wrong",
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.userErr.Unwrap()

			if got != tt.want {
				t.Errorf("Unwrap() = %v, want %v", got, tt.want)
			}

			// Test that errors.Is works correctly
			if tt.want != nil {
				if !errors.Is(tt.userErr, tt.want) {
					t.Errorf("errors.Is(userErr, %v) = false, want true", tt.want)
				}
			}
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestTransportError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		timeout bool
	}{
		{"deadline", fmt.Errorf("get runs: %w", context.DeadlineExceeded), true},
		{"net timeout", timeoutError{}, true},
		{"other", io.ErrUnexpectedEOF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := TransportError(tt.err)
			if got := errors.Is(err, ErrNetworkTimeout); got != tt.timeout {
				t.Errorf("errors.Is(ErrNetworkTimeout) = %v, want %v", got, tt.timeout)
			}
			if tt.timeout && !strings.Contains(WrapError(err).Error(), "did not respond in time") {
				t.Errorf("WrapError() = %q, want timeout message", WrapError(err).Error())
			}
		})
	}
}
