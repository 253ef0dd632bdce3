package review

import (
	"context"
	"sort"

	"github.com/dukehal/segreview/internal/task"
	"github.com/dukehal/segreview/internal/training"
)

// GroupSummary is the per-group batch progress report.
type GroupSummary struct {
	ExpGroup    string           `json:"exp_group"`
	Environment task.Environment `json:"environment"`
	Total       int              `json:"total"`
	Open        int              `json:"open"`
	Submitted   int              `json:"submitted"`
	Approved    int              `json:"approved"`
	Rejected    int              `json:"rejected"`
}

// Summary tallies every known task by group and status, plus unscored
// training submissions. Groups that posted tasks but no longer appear in
// the seed file still show up; the tasks are the source of truth here.
type Summary struct {
	Groups          []GroupSummary `json:"groups"`
	TrainingPending int            `json:"training_pending"`
}

func (e *Engine) Summarize(ctx context.Context) (*Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	env := e.client.Environment()
	tasks, err := e.tasks.List(ctx, env, "", "")
	if err != nil {
		return nil, err
	}

	byGroup := make(map[string]*GroupSummary)
	for _, t := range tasks {
		gs, ok := byGroup[t.ExpGroup]
		if !ok {
			gs = &GroupSummary{ExpGroup: t.ExpGroup, Environment: t.Environment}
			byGroup[t.ExpGroup] = gs
		}
		gs.Total++
		switch t.Status {
		case task.StatusOpen:
			gs.Open++
		case task.StatusSubmitted:
			gs.Submitted++
		case task.StatusApproved:
			gs.Approved++
		case task.StatusRejected:
			gs.Rejected++
		}
	}

	summary := &Summary{}
	for _, gs := range byGroup {
		summary.Groups = append(summary.Groups, *gs)
	}
	sort.Slice(summary.Groups, func(i, j int) bool {
		return summary.Groups[i].ExpGroup < summary.Groups[j].ExpGroup
	})

	pending, err := e.training.List(ctx, env, "")
	if err != nil {
		return nil, err
	}
	for _, a := range pending {
		if a.QualScore == training.QualUnreviewed {
			summary.TrainingPending++
		}
	}
	return summary, nil
}
