package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dukehal/segreview/internal/expgroup"
	"github.com/dukehal/segreview/internal/task"
	"github.com/dukehal/segreview/pkg/cerr"
	"github.com/dukehal/segreview/pkg/storage"
)

const groupsPrefix = "exp_groups"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string, env task.Environment) string {
	return fmt.Sprintf("%s/%s.yaml", groupsPrefix, expgroup.Key(id, env))
}

func (r *YAMLRepository) Put(ctx context.Context, g *expgroup.Group) error {
	data, err := yaml.Marshal(g)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal experiment group: %w", err))
	}
	if err := r.storage.Write(ctx, path(g.ID, g.Environment), data); err != nil {
		return cerr.WrapStorageWriteError("experiment group", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string, env task.Environment) (*expgroup.Group, error) {
	data, err := r.storage.Read(ctx, path(id, env))
	if err != nil {
		return nil, cerr.WrapStorageReadError("experiment group", err)
	}
	var g expgroup.Group
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal experiment group: %w", err))
	}
	return &g, nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*expgroup.Group, error) {
	paths, err := r.storage.List(ctx, groupsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("experiment groups", err)
	}
	var all []*expgroup.Group
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var g expgroup.Group
		if err := yaml.Unmarshal(data, &g); err != nil {
			continue
		}
		all = append(all, &g)
	}
	return all, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string, env task.Environment) error {
	if err := r.storage.Delete(ctx, path(id, env)); err != nil {
		return cerr.WrapStorageDeleteError("experiment group", err)
	}
	return nil
}
