package ui

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// TextDiff renders the changes from a to b inline: insertions styled as
// Inserted, deletions as Deleted. Equal input renders unchanged.
func TextDiff(a, b string) string {
	if a == b {
		return a
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			sb.WriteString(Inserted.Render(d.Text))
		case diffmatchpatch.DiffDelete:
			sb.WriteString(Deleted.Render(d.Text))
		default:
			sb.WriteString(d.Text)
		}
	}
	return sb.String()
}

// LineDiff renders a line-level diff with "+ " and "- " prefixes, for
// multi-line documents such as snapshot JSON.
func LineDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	chars1, chars2, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix, style := "  ", MutedText
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix, style = "+ ", Inserted
		case diffmatchpatch.DiffDelete:
			prefix, style = "- ", ErrorMsg
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(style.Render(prefix + strings.TrimSuffix(line, "\n")))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Changed reports the line counts LineDiff would mark as added and removed.
func Changed(a, b string) (added, removed int) {
	dmp := diffmatchpatch.New()
	chars1, chars2, lines := dmp.DiffLinesToChars(a, b)
	for _, d := range dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lines) {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") && d.Text != "" {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}
