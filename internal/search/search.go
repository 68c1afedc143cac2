// Package search matches index entries against keyword queries with
// optional field filters such as tag:work or root:api.
package search

import (
	"sort"
	"strings"
	"unicode"

	"github.com/pders01/ctxsnap/internal/models"
)

// Field names a query can filter on, after alias resolution.
const (
	FieldTitle   = "title"
	FieldRoot    = "root"
	FieldTags    = "tags"
	FieldTodos   = "todos"
	FieldNote    = "note"
	FieldProcess = "processes"
	FieldApps    = "running_apps"
)

var aliases = map[string]string{
	"tag":     FieldTags,
	"tags":    FieldTags,
	"root":    FieldRoot,
	"todo":    FieldTodos,
	"note":    FieldNote,
	"process": FieldProcess,
	"app":     FieldApps,
	"title":   FieldTitle,
}

// Query is a parsed search string. Every term and every field value must
// match, case-insensitively.
type Query struct {
	Terms  []string
	Fields map[string][]string
}

// Parse splits raw on whitespace, honouring double and single quotes. With
// fields enabled, a token key:value whose key is a known field becomes a
// filter; any other token, including an unknown key:value, is a plain term.
func Parse(raw string, fieldsEnabled bool) Query {
	q := Query{Fields: map[string][]string{}}
	for _, tok := range tokenize(strings.TrimSpace(raw)) {
		if fieldsEnabled {
			if key, value, ok := strings.Cut(tok, ":"); ok {
				field := aliases[strings.ToLower(strings.TrimSpace(key))]
				value = strings.ToLower(strings.TrimSpace(value))
				if field != "" && value != "" {
					q.Fields[field] = append(q.Fields[field], value)
					continue
				}
			}
		}
		q.Terms = append(q.Terms, strings.ToLower(tok))
	}
	return q
}

func (q Query) Empty() bool {
	return len(q.Terms) == 0 && len(q.Fields) == 0
}

// NeedsSnapshot reports whether matching reads fields the index does not
// carry.
func (q Query) NeedsSnapshot() bool {
	for field := range q.Fields {
		switch field {
		case FieldTodos, FieldNote, FieldProcess, FieldApps:
			return true
		}
	}
	return false
}

// Item is one candidate: its index entry, cached search blob and, when
// the query needs it, the full snapshot.
type Item struct {
	Entry    models.IndexEntry
	Blob     string
	Snapshot *models.Snapshot
}

// Match reports whether it satisfies q. A field filter on a snapshot-only
// field fails when Snapshot is nil, and an unknown field never matches.
func Match(q Query, it Item) bool {
	if q.Empty() {
		return true
	}
	title := strings.ToLower(it.Entry.Title)
	root := strings.ToLower(it.Entry.Root)
	tags := strings.ToLower(strings.Join(it.Entry.Tags, " "))

	if len(q.Terms) > 0 && !containsAll(title+" "+root+" "+tags+" "+strings.ToLower(it.Blob), q.Terms) {
		return false
	}

	for field, values := range q.Fields {
		var hay string
		switch field {
		case FieldTitle:
			hay = title
		case FieldRoot:
			hay = root
		case FieldTags:
			hay = tags
		case FieldTodos, FieldNote, FieldProcess, FieldApps:
			if it.Snapshot == nil {
				return false
			}
			hay = snapshotField(it.Snapshot, field)
		default:
			return false
		}
		if !containsAll(hay, values) {
			return false
		}
	}
	return true
}

func snapshotField(s *models.Snapshot, field string) string {
	var parts []string
	switch field {
	case FieldTodos:
		parts = append(parts, s.Todos[:]...)
	case FieldNote:
		parts = append(parts, s.Note)
	case FieldProcess:
		for _, p := range s.Processes {
			parts = append(parts, p.Name, p.Path)
		}
	case FieldApps:
		for _, a := range s.RunningApps {
			parts = append(parts, a.Name, a.Path)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Score ranks a matching item: ten points per occurrence of a term, plus
// bonuses for terms found in the title or a tag.
func Score(q Query, it Item) int {
	score := 0
	text := strings.ToLower(strings.Join([]string{it.Entry.Title, it.Entry.Root, strings.Join(it.Entry.Tags, " "), it.Blob}, " "))
	title := strings.ToLower(it.Entry.Title)
	for _, word := range q.Terms {
		score += strings.Count(text, word) * 10
		if strings.Contains(title, word) {
			score += 50
		}
		for _, tag := range it.Entry.Tags {
			if strings.Contains(strings.ToLower(tag), word) {
				score += 30
			}
		}
	}
	for _, values := range q.Fields {
		score += 20 * len(values)
	}
	return score
}

type Result struct {
	Entry models.IndexEntry
	Score int
}

// Loader returns the full snapshot for id, or nil when it is gone.
type Loader func(id string) (*models.Snapshot, error)

// Run matches every index entry and returns the hits, best first. Ties keep
// index order. load is only called when the query needs snapshot fields.
func Run(q Query, x *models.Index, load Loader) ([]Result, error) {
	var results []Result
	for _, e := range x.Snapshots {
		it := Item{Entry: e, Blob: x.SearchMeta.Tokens[e.ID]}
		if q.NeedsSnapshot() && load != nil {
			snap, err := load(e.ID)
			if err != nil {
				return nil, err
			}
			it.Snapshot = snap
		}
		if Match(q, it) {
			results = append(results, Result{Entry: e, Score: Score(q, it)})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// tokenize splits on unquoted whitespace. An unterminated quote runs to the
// end of the input.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune
	inToken := false
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if inToken && cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func containsAll(hay string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(hay, n) {
			return false
		}
	}
	return true
}
