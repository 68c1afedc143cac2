// Package cloudstub is the placeholder for a hosted sync provider. It does
// no I/O: pulls return nothing, pushes acknowledge nothing, and the cursor
// is handed back unchanged.
package cloudstub

import (
	"context"

	"github.com/pders01/ctxsnap/internal/models"
	"github.com/pders01/ctxsnap/internal/syncer"
)

const Name = models.ProviderCloudStub

type Provider struct{}

var _ syncer.Provider = Provider{}

func New() Provider {
	return Provider{}
}

func (Provider) Name() string {
	return Name
}

func (Provider) Pull(ctx context.Context, cursor string) (syncer.PullResult, error) {
	if err := ctx.Err(); err != nil {
		return syncer.PullResult{}, err
	}
	return syncer.PullResult{Changes: []*models.Snapshot{}, Cursor: cursor}, nil
}

func (Provider) Push(ctx context.Context, docs []*models.Snapshot) (syncer.PushResult, error) {
	if err := ctx.Err(); err != nil {
		return syncer.PushResult{}, err
	}
	return syncer.PushResult{Acked: map[string]int{}}, nil
}
