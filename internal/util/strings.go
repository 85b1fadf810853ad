// Package util holds small text helpers shared by the CLI output code.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Truncate caps a string at maxLen runes, ending it with "..." when it
// was cut. Not ANSI-aware; use TruncateANSI for styled terminal text.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// TruncateANSI caps a string at maxWidth visual columns, preserving
// escape sequences and accounting for wide characters.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// FirstLine returns the text up to the first newline, truncated to
// maxLen runes. Useful for one-line summaries of multi-line content.
func FirstLine(s string, maxLen int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return Truncate(s, maxLen)
}
