package tools

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrToolUnavailable_Error(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "x", Available: []string{"a", "b"}}
	want := `Tool "x" is not available. Available tools are: a, b`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrToolUnavailable_NoTools(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "x"}
	if !strings.Contains(err.Error(), "No tools are available") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestErrToolUnavailable_WrappedErrorsAs(t *testing.T) {
	orig := &ErrToolUnavailable{ToolName: "exec"}
	wrapped := fmt.Errorf("dispatch: %w", orig)

	var target *ErrToolUnavailable
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrToolUnavailable")
	}
	if target.ToolName != "exec" {
		t.Errorf("ToolName = %q, want %q", target.ToolName, "exec")
	}
}

func TestFormatError(t *testing.T) {
	long := strings.Repeat("z", 400)
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "unavailable",
			err:  &ErrToolUnavailable{ToolName: "x", Available: []string{"a"}},
			want: `Tool "x" is not available. Available tools are: a`,
		},
		{
			name: "handler failure first line only",
			err:  &ToolError{Tool: "fetch_webpage", Err: errors.New("HTTP 502: bad gateway\n<html>stack</html>")},
			want: "Error: fetch_webpage failed: HTTP 502: bad gateway",
		},
		{
			name: "long cause capped",
			err:  &ToolError{Tool: "t", Err: errors.New(long)},
			want: "Error: t failed: " + long[:maxErrorSummary] + "...",
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: "Error: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatError(tt.err); got != tt.want {
				t.Errorf("FormatError() = %q, want %q", got, tt.want)
			}
		})
	}
}
