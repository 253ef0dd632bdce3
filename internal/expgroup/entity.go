package expgroup

import (
	"strings"

	"github.com/dukehal/segreview/internal/task"
)

// UnconstrainedObjectCount marks groups whose images may contain any number
// of objects.
const UnconstrainedObjectCount = -1

// Group is an experiment-group configuration bucket. A group id can be used
// once per environment, so the identity is the (ID, Environment) pair.
// Groups are immutable after creation except by operator update through the
// seed file.
type Group struct {
	ID          string           `yaml:"id"`
	Environment task.Environment `yaml:"environment"`
	NumObjects  int              `yaml:"num_objects"`
	Reward      float64          `yaml:"reward"`
	TimeLimit   bool             `yaml:"time_limit"`
}

// Key returns the storage key for the (id, environment) pair.
func Key(id string, env task.Environment) string {
	return id + "__" + string(env)
}

// IsTraining reports whether the group id names a training group. Training
// submissions are scored for the segmentation qualification instead of being
// approved or rejected as paid work.
func IsTraining(id string) bool {
	return strings.HasPrefix(id, "qual")
}
