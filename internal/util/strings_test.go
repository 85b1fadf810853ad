package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"tiny maxLen collapses to ellipsis", "hello", 3, "..."},
		{"zero maxLen collapses to ellipsis", "hello", 0, "..."},
		{"empty string unchanged", "", 10, ""},
		{"unicode counted by rune", "日本語テスト", 5, "日本..."},
		{"mixed ascii and unicode", "hello日本語world", 10, "hello日本..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateANSIPreservesStyling(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render("hello world")

	got := TruncateANSI(styled, 8)
	if lipgloss.Width(got) > 8 {
		t.Errorf("width = %d, want <= 8", lipgloss.Width(got))
	}

	// Width accounting ignores the escape sequences: a styled string
	// within the limit passes through untouched.
	if got := TruncateANSI(styled, 20); got != styled {
		t.Errorf("TruncateANSI modified a string already within the limit")
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("first\nsecond\nthird", 20); got != "first" {
		t.Errorf("FirstLine = %q, want %q", got, "first")
	}
	if got := FirstLine("a very long single line of text", 10); got != "a very ..." {
		t.Errorf("FirstLine = %q", got)
	}
}
