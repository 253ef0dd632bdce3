package taskconfig

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Configs []Config `yaml:"configs"`
}

// LoadSeed imports task configurations from a YAML file. Existing entries
// for the same (group, image) pair are overwritten. Returns how many
// configurations were stored.
func LoadSeed(ctx context.Context, repo Repository, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read task config file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse task config file: %w", err)
	}
	for i, cfg := range seed.Configs {
		if cfg.ExpGroup == "" || cfg.ImageURL == "" {
			return i, fmt.Errorf("task config %d is missing exp_group or image_url", i)
		}
		c := cfg
		if err := repo.Put(ctx, &c); err != nil {
			return i, err
		}
	}
	return len(seed.Configs), nil
}
