package task

import "context"

type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// List returns tasks filtered by the non-empty arguments, ordered by
	// ascending auto-approve deadline (tasks without a deadline last, by id).
	List(ctx context.Context, env Environment, expGroup string, status Status) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
	Upsert(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
}
