package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukehal/segreview/internal/answer"
	"github.com/dukehal/segreview/internal/expgroup"
	"github.com/dukehal/segreview/internal/task"
	"github.com/dukehal/segreview/pkg/cerr"
)

// Label is an annotation class a worker can assign to a segment.
type Label string

const (
	LabelAirplane   Label = "airplane"
	LabelBackpack   Label = "backpack"
	LabelBicycle    Label = "bicycle"
	LabelBoat       Label = "boat"
	LabelBus        Label = "bus"
	LabelCar        Label = "car"
	LabelCat        Label = "cat"
	LabelDog        Label = "dog"
	LabelMotorcycle Label = "motorcycle"
	LabelPerson     Label = "person"
	LabelTrain      Label = "train"
	LabelTruck      Label = "truck"
)

var allLabels = []Label{
	LabelAirplane, LabelBackpack, LabelBicycle, LabelBoat,
	LabelBus, LabelCar, LabelCat, LabelDog,
	LabelMotorcycle, LabelPerson, LabelTrain, LabelTruck,
}

// Heuristic selects the content-richness rule for a batch auto-approval
// pass.
type Heuristic string

const (
	HeuristicObjectCount    Heuristic = "object_count"
	HeuristicClassDiversity Heuristic = "class_diversity"
)

// objectCountSatisfied reports whether the finalized annotation carries the
// group's required object count. A single finished object still passes when
// drawing data sits in the in-progress field, which indicates the next
// object was mid-draw at submission time.
func objectCountSatisfied(t *task.Task, group *expgroup.Group) bool {
	required := 1
	if group != nil && group.NumObjects != expgroup.UnconstrainedObjectCount {
		required = group.NumObjects
	}
	finalCount := answer.FilledEntryCount(normalizedOrEmpty(t.AnnotationFinal), "strokes")
	if finalCount >= required {
		return true
	}
	if finalCount >= 1 && answer.FilledEntryCount(normalizedOrEmpty(t.AnnotationInProgress), "data") >= 1 {
		return true
	}
	return false
}

// classDiversitySatisfied reports whether the in-progress and final
// annotation text together name at least two distinct classes. A finalized
// annotation must exist; in-progress work alone never passes.
func classDiversitySatisfied(t *task.Task) bool {
	final := normalizedOrEmpty(t.AnnotationFinal)
	if final == "" {
		return false
	}
	combined := normalizedOrEmpty(t.AnnotationInProgress) + " " + final
	return distinctLabels(combined) >= 2
}

func satisfies(t *task.Task, group *expgroup.Group, h Heuristic) (bool, error) {
	switch h {
	case HeuristicObjectCount:
		return objectCountSatisfied(t, group), nil
	case HeuristicClassDiversity:
		return classDiversitySatisfied(t), nil
	}
	return false, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown heuristic %q", h), nil)
}

// AutoApproveResult reports what a batch auto-approval pass did.
type AutoApproveResult struct {
	Checked  int `json:"checked"`
	Approved int `json:"approved"`
}

// AutoApproveGroup approves every submitted task in a group whose content
// passes the chosen heuristic. Tasks that fail stay Submitted for manual
// review; the pass never rejects.
func (e *Engine) AutoApproveGroup(ctx context.Context, groupID string, h Heuristic) (*AutoApproveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	group, err := e.groups.Get(ctx, groupID, e.client.Environment())
	if err != nil {
		return nil, err
	}
	submitted, err := e.tasks.List(ctx, e.client.Environment(), groupID, task.StatusSubmitted)
	if err != nil {
		return nil, err
	}

	res := &AutoApproveResult{}
	for _, t := range submitted {
		res.Checked++
		ok, err := satisfies(t, group, h)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := e.approveLocked(ctx, t, ""); err != nil {
			slog.Warn("failed to auto-approve task", "task_id", t.ID, "error", err)
			continue
		}
		res.Approved++
	}
	return res, nil
}

// Suggestion is the heuristic pre-screen shown next to a submission in the
// review UI. It never decides on its own; the reviewer does.
type Suggestion struct {
	Approve        bool   `json:"approve"`
	Reason         string `json:"reason"`
	ObjectCount    int    `json:"object_count"`
	DistinctLabels int    `json:"distinct_labels"`
}

// Suggest pre-screens a submitted task. Groups with a fixed object count are
// judged by the object-count rule; unconstrained groups by label diversity.
func Suggest(t *task.Task, group *expgroup.Group) Suggestion {
	final := normalizedOrEmpty(t.AnnotationFinal)
	s := Suggestion{
		ObjectCount:    answer.FilledEntryCount(final, "strokes"),
		DistinctLabels: distinctLabels(normalizedOrEmpty(t.AnnotationInProgress) + " " + final),
	}
	if group != nil && group.NumObjects != expgroup.UnconstrainedObjectCount {
		if s.Approve = objectCountSatisfied(t, group); s.Approve {
			s.Reason = fmt.Sprintf("object count meets the group requirement of %d", group.NumObjects)
		} else {
			s.Reason = fmt.Sprintf("only %d of %d required objects annotated", s.ObjectCount, group.NumObjects)
		}
		return s
	}
	if s.Approve = classDiversitySatisfied(t); s.Approve {
		s.Reason = fmt.Sprintf("%d distinct classes annotated", s.DistinctLabels)
	} else if final == "" {
		s.Reason = "no finalized annotation"
	} else {
		s.Reason = "fewer than two distinct classes annotated"
	}
	return s
}

// distinctLabels counts the known classes that appear as a class value in
// the annotation string.
func distinctLabels(s string) int {
	t := answer.Canonical(s)
	n := 0
	for _, label := range allLabels {
		marker := "class:" + string(label)
		if strings.Contains(t, marker+",") || strings.Contains(t, marker+"}") {
			n++
		}
	}
	return n
}

func normalizedOrEmpty(s *string) string {
	n := answer.NormalizeStored(s)
	if n == nil || *n == answer.NoneSentinel {
		return ""
	}
	return *n
}
