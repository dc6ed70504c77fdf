package display

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
	}{
		{"short", "hello world", 20},
		{"exact", "hello world", 11},
		{"multiple lines", "hello world this is a test", 15},
		{"long test name", "org.example.integration.ClusterRestartTest.testRollingRestartWithPendingTasks", 30},
		{"long word then short", "verylongwordthatdoesntfit short", 20},
		{"wide runes", "Hello 世界 this is a test with emoji 🎉 and more text", 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Wrap(tt.text, tt.width)
			for i, line := range strings.Split(result, "\n") {
				assert.LessOrEqual(t, VisualWidth(line), tt.width, "line %d: %q", i, line)
			}
			assert.Equal(t,
				strings.ReplaceAll(tt.text, " ", ""),
				strings.NewReplacer("\n", "", " ", "").Replace(result),
				"wrapping must not drop content")
		})
	}
}

func TestWrap_Degenerate(t *testing.T) {
	assert.Equal(t, "", Wrap("", 20))
	assert.Equal(t, "hello world", Wrap("hello world", 0))
	assert.Equal(t, "hello world", Wrap("hello world", 20))
	assert.Equal(t, "hello\nworld", Wrap("hello world", 6))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		max      int
		ellipsis bool
		want     string
	}{
		{"fits", "pkg.Test", 10, true, "pkg.Test"},
		{"ellipsis", "this is a very long text", 10, true, "this is..."},
		{"hard cut", "this is a very long text", 10, false, "this is a "},
		{"too narrow for ellipsis", "abcdef", 3, true, "abc"},
		{"zero", "abc", 0, true, ""},
		{"trims", "  padded  ", 10, false, "padded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max, tt.ellipsis)
			assert.Equal(t, strings.TrimRight(tt.want, " "), strings.TrimRight(got, " "))
			assert.LessOrEqual(t, VisualWidth(got), max(tt.max, 0))
		})
	}
}

func TestTruncateAndPad(t *testing.T) {
	for _, s := range []string{"short", "exactly10!", "something much longer than ten", "世界"} {
		assert.Equal(t, 10, VisualWidth(TruncateAndPad(s, 10, true)), s)
	}
}
