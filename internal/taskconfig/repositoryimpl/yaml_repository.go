package repositoryimpl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dukehal/segreview/internal/taskconfig"
	"github.com/dukehal/segreview/pkg/cerr"
	"github.com/dukehal/segreview/pkg/storage"
)

const configPrefix = "task_configs"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

// Image URLs are not filesystem safe, so the key is a digest of the
// (group, url) pair.
func path(expGroup, imageURL string) string {
	sum := sha256.Sum256([]byte(expGroup + "\x00" + imageURL))
	return fmt.Sprintf("%s/%s.yaml", configPrefix, hex.EncodeToString(sum[:16]))
}

func (r *YAMLRepository) Put(ctx context.Context, c *taskconfig.Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task config: %w", err))
	}
	if err := r.storage.Write(ctx, path(c.ExpGroup, c.ImageURL), data); err != nil {
		return cerr.WrapStorageWriteError("task config", err)
	}
	return nil
}

func (r *YAMLRepository) List(ctx context.Context, expGroup string) ([]*taskconfig.Config, error) {
	paths, err := r.storage.List(ctx, configPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("task configs", err)
	}
	var all []*taskconfig.Config
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var c taskconfig.Config
		if err := yaml.Unmarshal(data, &c); err != nil {
			continue
		}
		if expGroup != "" && c.ExpGroup != expGroup {
			continue
		}
		all = append(all, &c)
	}
	return all, nil
}
