package taskconfig

import "context"

type Repository interface {
	Put(ctx context.Context, c *Config) error
	List(ctx context.Context, expGroup string) ([]*Config, error)
}
