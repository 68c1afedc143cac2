package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer sentence", 10, "a longe..."},
		{"multi\nline", 20, "multi line"},
		{"업무 기록 정리", 4, "업..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFieldsSkipsEmptyValues(t *testing.T) {
	var buf bytes.Buffer
	Fields(&buf, Field{"Title", "hello"}, Field{"Note", ""}, Field{"Tags", Tags([]string{"a", "b"})})
	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "#a #b") {
		t.Errorf("missing values in %q", out)
	}
	if strings.Contains(out, "Note") {
		t.Errorf("empty row rendered: %q", out)
	}
}

func TestChanged(t *testing.T) {
	a := "one\ntwo\nthree\n"
	b := "one\n2\nthree\nfour\n"
	added, removed := Changed(a, b)
	if added != 2 || removed != 1 {
		t.Errorf("Changed() = +%d -%d, want +2 -1", added, removed)
	}
	if added, removed := Changed(a, a); added != 0 || removed != 0 {
		t.Errorf("identical input reported changes: +%d -%d", added, removed)
	}

	out := LineDiff(a, b)
	if !strings.Contains(out, "+ four") || !strings.Contains(out, "- two") {
		t.Errorf("unexpected line diff:\n%s", out)
	}
}

func TestTextDiffKeepsBothSides(t *testing.T) {
	out := TextDiff("ship the lexer", "ship the doc")
	for _, part := range []string{"ship the ", "lexer", "doc"} {
		if !strings.Contains(out, part) {
			t.Errorf("diff %q is missing %q", out, part)
		}
	}
	if TextDiff("same", "same") != "same" {
		t.Error("equal input should render unchanged")
	}
}
