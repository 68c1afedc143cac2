package store

import (
	"sync"

	"github.com/pders01/ctxsnap/internal/models"
)

// opQueue serialises writers per document kind.
type opQueue struct {
	locks map[models.Kind]*sync.Mutex
}

func newOpQueue() *opQueue {
	q := &opQueue{locks: make(map[models.Kind]*sync.Mutex, len(models.Kinds))}
	for _, k := range models.Kinds {
		q.locks[k] = &sync.Mutex{}
	}
	return q
}

// acquire locks the given kinds in models.Kinds order and returns the
// matching release. Always locking in the same order rules out deadlock
// between multi-kind operations.
func (q *opQueue) acquire(kinds ...models.Kind) func() {
	want := make(map[models.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var held []*sync.Mutex
	for _, k := range models.Kinds {
		if !want[k] {
			continue
		}
		mu := q.locks[k]
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
