package training

import (
	"context"

	"github.com/dukehal/segreview/internal/task"
)

type Repository interface {
	// Create fails with AlreadyExists when the (task, assignment) pair has
	// been recorded before; sync treats that as a skippable duplicate.
	Create(ctx context.Context, a *Assignment) error
	Get(ctx context.Context, taskID, assignmentID string) (*Assignment, error)
	// List returns assignments filtered by the non-empty arguments, ordered
	// by ascending auto-approve deadline.
	List(ctx context.Context, env task.Environment, status task.Status) ([]*Assignment, error)
	Update(ctx context.Context, a *Assignment) error
}
