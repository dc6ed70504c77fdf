package provider

import (
	"fmt"
	"strings"
)

// NextLink extracts the rel="next" URL from an RFC 8288 Link header.
// Both GitHub and Buildkite paginate this way.
func NextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, attr := range segments[1:] {
			attr = strings.TrimSpace(attr)
			if attr == `rel="next"` || attr == "rel=next" {
				return strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
			}
		}
	}
	return ""
}

// HTTPStatusError converts a non-success HTTP response into an error wrapping
// the matching sentinel.
func HTTPStatusError(status int, body string) error {
	var sentinel error
	switch status {
	case 401, 403:
		sentinel = ErrAuthFailed
	case 404:
		sentinel = ErrBuildNotFound
	case 429:
		sentinel = ErrRateLimited
	}
	if sentinel != nil {
		return fmt.Errorf("API request failed with status %d: %s: %w", status, body, sentinel)
	}
	return fmt.Errorf("API request failed with status %d: %s", status, body)
}
