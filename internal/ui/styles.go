// Package ui renders CLI output: styles, key/value blocks and diffs.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	Primary   = lipgloss.Color("#7C3AED")
	Secondary = lipgloss.Color("#10B981")
	Muted     = lipgloss.Color("#6B7280")
	Warning   = lipgloss.Color("#F59E0B")
	Error     = lipgloss.Color("#EF4444")

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Label = lipgloss.NewStyle().
		Foreground(Muted).
		Width(12)

	Success = lipgloss.NewStyle().
		Foreground(Secondary).
		Bold(true)

	Warn = lipgloss.NewStyle().
		Foreground(Warning).
		Bold(true)

	ErrorMsg = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	MutedText = lipgloss.NewStyle().
			Foreground(Muted)

	Badge = lipgloss.NewStyle().
		Foreground(Primary).
		Bold(true)

	Inserted = lipgloss.NewStyle().Foreground(Secondary)
	Deleted  = lipgloss.NewStyle().Foreground(Error).Strikethrough(true)
)

// Field is one row of a key/value block.
type Field struct {
	Key   string
	Value string
}

// Fields renders rows aligned on their labels. Rows with an empty value are
// skipped.
func Fields(w io.Writer, rows ...Field) {
	for _, r := range rows {
		if r.Value == "" {
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", Label.Render(r.Key+":"), r.Value)
	}
}

// Heading prints a numbered or plain title line.
func Heading(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, Title.Render(fmt.Sprintf(format, args...)))
}

// Tags renders a tag list as #a #b.
func Tags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = "#" + t
	}
	return strings.Join(out, " ")
}

// Truncate shortens s to n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
