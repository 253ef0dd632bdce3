package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dukehal/segreview/internal/task"
	"github.com/dukehal/segreview/internal/training"
	"github.com/dukehal/segreview/pkg/cerr"
	"github.com/dukehal/segreview/pkg/storage"
)

const trainingPrefix = "training_assignments"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(taskID, assignmentID string) string {
	return fmt.Sprintf("%s/%s.yaml", trainingPrefix, training.Key(taskID, assignmentID))
}

func (r *YAMLRepository) Create(ctx context.Context, a *training.Assignment) error {
	exists, err := r.storage.Exists(ctx, path(a.TaskID, a.AssignmentID))
	if err != nil {
		return cerr.WrapStorageWriteError("training assignment", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "training assignment already recorded", nil)
	}
	return r.write(ctx, a)
}

func (r *YAMLRepository) Get(ctx context.Context, taskID, assignmentID string) (*training.Assignment, error) {
	data, err := r.storage.Read(ctx, path(taskID, assignmentID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("training assignment", err)
	}
	var a training.Assignment
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal training assignment: %w", err))
	}
	return &a, nil
}

func (r *YAMLRepository) List(ctx context.Context, env task.Environment, status task.Status) ([]*training.Assignment, error) {
	paths, err := r.storage.List(ctx, trainingPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("training assignments", err)
	}
	var all []*training.Assignment
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var a training.Assignment
		if err := yaml.Unmarshal(data, &a); err != nil {
			continue
		}
		if env != "" && a.Environment != env {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		all = append(all, &a)
	}
	sort.Slice(all, func(i, j int) bool {
		di, dj := all[i].AutoApproveDeadline, all[j].AutoApproveDeadline
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return training.Key(all[i].TaskID, all[i].AssignmentID) < training.Key(all[j].TaskID, all[j].AssignmentID)
	})
	return all, nil
}

func (r *YAMLRepository) Update(ctx context.Context, a *training.Assignment) error {
	exists, err := r.storage.Exists(ctx, path(a.TaskID, a.AssignmentID))
	if err != nil {
		return cerr.WrapStorageWriteError("training assignment", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "training assignment not found", nil)
	}
	return r.write(ctx, a)
}

func (r *YAMLRepository) write(ctx context.Context, a *training.Assignment) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal training assignment: %w", err))
	}
	if err := r.storage.Write(ctx, path(a.TaskID, a.AssignmentID), data); err != nil {
		return cerr.WrapStorageWriteError("training assignment", err)
	}
	return nil
}
