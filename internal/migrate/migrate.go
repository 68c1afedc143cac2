// Package migrate upgrades stored documents to the current schema version.
//
// Each document kind owns an ordered chain of steps keyed by the source
// version. A step receives a private copy of the decoded JSON object and
// must return an object whose schema_version is exactly one higher.
package migrate

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/pders01/ctxsnap/internal/errs"
	"github.com/pders01/ctxsnap/internal/models"
)

// Step upgrades a document by one schema version.
type Step func(doc map[string]any) (map[string]any, error)

// Chain is the migration path of one document kind.
type Chain struct {
	Current int
	Steps   map[int]Step
}

// Engine applies per-kind chains.
type Engine struct {
	chains map[models.Kind]Chain
}

// New returns an engine with the built-in chains for every kind.
func New() *Engine {
	return NewEngine(DefaultChains())
}

// NewEngine returns an engine over the given chains.
func NewEngine(chains map[models.Kind]Chain) *Engine {
	return &Engine{chains: chains}
}

// Current returns the newest supported version of kind.
func (e *Engine) Current(kind models.Kind) int {
	if c, ok := e.chains[kind]; ok {
		return c.Current
	}
	return kind.CurrentVersion()
}

// Migrate brings doc up to the current version of kind. The returned bool
// reports whether any step ran. doc itself is never modified.
//
// A document newer than the current version yields
// *errs.UnsupportedSchemaError.
func (e *Engine) Migrate(kind models.Kind, id string, doc map[string]any) (map[string]any, bool, error) {
	chain, ok := e.chains[kind]
	if !ok {
		return nil, false, fmt.Errorf("no migration chain for %s", kind)
	}

	from := Version(doc)
	if from > chain.Current {
		return nil, false, &errs.UnsupportedSchemaError{
			Kind:      string(kind),
			ID:        id,
			Version:   from,
			Supported: chain.Current,
		}
	}
	if from == chain.Current {
		return doc, false, nil
	}

	out := doc
	for v := from; v < chain.Current; v++ {
		step, ok := chain.Steps[v]
		if !ok {
			return nil, false, fmt.Errorf("no %s migration from version %d", kind, v)
		}
		next, err := step(Clone(out))
		if err != nil {
			return nil, false, fmt.Errorf("%s migration %d->%d failed: %w", kind, v, v+1, err)
		}
		if got := Version(next); got != v+1 {
			return nil, false, fmt.Errorf("%s migration %d->%d produced version %d", kind, v, v+1, got)
		}
		out = next
	}
	return out, true, nil
}

// Version reads schema_version from a decoded document. Documents written
// before versioning existed carry none and are version 1.
func Version(doc map[string]any) int {
	switch v := doc["schema_version"].(type) {
	case float64:
		if v >= 1 && v == math.Trunc(v) {
			return int(v)
		}
	case int:
		if v >= 1 {
			return v
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n >= 1 {
			return int(n)
		}
	}
	return 1
}

// Clone deep-copies a decoded JSON value.
func Clone(doc map[string]any) map[string]any {
	return cloneValue(doc).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
