package expgroup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/dukehal/segreview/internal/task"
)

// seedDebounceInterval is the delay after an fsnotify event before re-reading
// the seed file, so editors that write in multiple steps trigger one reload.
const seedDebounceInterval = 100 * time.Millisecond

type seedFile struct {
	Groups []seedGroup `yaml:"groups"`
}

type seedGroup struct {
	ID          string  `yaml:"id"`
	Environment string  `yaml:"environment"`
	NumObjects  *int    `yaml:"num_objects"`
	Reward      float64 `yaml:"reward"`
	TimeLimit   bool    `yaml:"time_limit"`
}

// LoadSeed reads the operator-managed seed file and replaces the stored
// group set with its contents. Groups missing from the file are removed so
// the provenance filter stops importing their tasks.
func LoadSeed(ctx context.Context, repo Repository, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read group seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse group seed file: %w", err)
	}

	want := make(map[string]*Group, len(seed.Groups))
	for _, sg := range seed.Groups {
		env, err := task.ParseEnvironment(sg.Environment)
		if err != nil {
			return fmt.Errorf("group %q: %w", sg.ID, err)
		}
		numObjects := UnconstrainedObjectCount
		if sg.NumObjects != nil {
			numObjects = *sg.NumObjects
		}
		want[Key(sg.ID, env)] = &Group{
			ID:          sg.ID,
			Environment: env,
			NumObjects:  numObjects,
			Reward:      sg.Reward,
			TimeLimit:   sg.TimeLimit,
		}
	}

	existing, err := repo.List(ctx)
	if err != nil {
		return err
	}
	for _, g := range existing {
		if _, ok := want[Key(g.ID, g.Environment)]; !ok {
			if err := repo.Delete(ctx, g.ID, g.Environment); err != nil {
				return err
			}
		}
	}
	for _, g := range want {
		if err := repo.Put(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// WatchSeed reloads the seed file whenever it changes on disk. It blocks
// until ctx is cancelled. A reload only runs when the file hash actually
// changed, so touch-without-modify is a no-op.
func WatchSeed(ctx context.Context, repo Repository, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors replace files by
	// rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch seed directory: %w", err)
	}

	lastHash, _ := hashFile(path)

	var debounce *time.Timer
	reload := func() {
		h, err := hashFile(path)
		if err != nil {
			slog.Warn("group seed file unreadable after change", "path", path, "error", err)
			return
		}
		if h == lastHash {
			return
		}
		lastHash = h
		if err := LoadSeed(ctx, repo, path); err != nil {
			slog.Error("failed to reload group seed file", "path", path, "error", err)
			return
		}
		slog.Info("reloaded experiment groups from seed file", "path", path)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(seedDebounceInterval, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("fsnotify error", "error", err)
		}
	}
}

func hashFile(path string) ([sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}
