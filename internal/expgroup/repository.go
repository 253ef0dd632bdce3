package expgroup

import (
	"context"

	"github.com/dukehal/segreview/internal/task"
)

type Repository interface {
	Put(ctx context.Context, g *Group) error
	Get(ctx context.Context, id string, env task.Environment) (*Group, error)
	List(ctx context.Context) ([]*Group, error)
	Delete(ctx context.Context, id string, env task.Environment) error
}

// KnownIDs returns the set of group ids present in the repository across
// both environments. The reconciliation engine uses this set to decide which
// externally observed items originated here.
func KnownIDs(ctx context.Context, repo Repository) (map[string]bool, error) {
	groups, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(groups))
	for _, g := range groups {
		ids[g.ID] = true
	}
	return ids, nil
}
