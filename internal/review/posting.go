package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukehal/segreview/internal/task"
	"github.com/dukehal/segreview/pkg/cerr"
)

// PostBatch posts tasks for every stored configuration of a group that does
// not already have a task record, up to limit (zero means all). Posting is
// idempotent on the (group, image) pair: re-running after a partial failure
// only posts what is still missing.
func (e *Engine) PostBatch(ctx context.Context, groupID string, limit int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	env := e.client.Environment()
	group, err := e.groups.Get(ctx, groupID, env)
	if err != nil {
		return nil, err
	}
	configs, err := e.configs.List(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, cerr.NewError(cerr.NotFound,
			fmt.Sprintf("no task configurations stored for group %s", groupID), nil)
	}

	existing, err := e.tasks.List(ctx, env, groupID, "")
	if err != nil {
		return nil, err
	}
	posted := make(map[string]bool, len(existing))
	for _, t := range existing {
		if t.ImageURL != "" {
			posted[t.ImageURL] = true
		}
	}

	var ids []string
	for _, cfg := range configs {
		if posted[cfg.ImageURL] {
			continue
		}
		if limit > 0 && len(ids) >= limit {
			break
		}
		id, err := e.poster.Post(ctx, *cfg, *group)
		if err != nil {
			// Keep what was posted so far; a re-run picks up the remainder.
			slog.Error("failed to post task", "exp_group", groupID, "image_url", cfg.ImageURL, "error", err)
			return ids, cerr.NewError(cerr.Unavailable, "failed to post task", err)
		}
		now := time.Now()
		rec := &task.Task{
			ID:             id,
			Environment:    env,
			ExpGroup:       cfg.ExpGroup,
			ImageURL:       cfg.ImageURL,
			Classes:        cfg.Classes,
			AnnotationMode: cfg.AnnotationMode,
			PreAnnotations: cfg.PreAnnotations,
			Status:         task.StatusOpen,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.tasks.Create(ctx, rec); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
