// Package review reconciles the local task database against the crowd-work
// exchange and drives review decisions on submitted work.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukehal/segreview/internal/answer"
	"github.com/dukehal/segreview/internal/eventbus"
	"github.com/dukehal/segreview/internal/expgroup"
	"github.com/dukehal/segreview/internal/hitposter"
	"github.com/dukehal/segreview/internal/mturk"
	"github.com/dukehal/segreview/internal/quals"
	"github.com/dukehal/segreview/internal/task"
	"github.com/dukehal/segreview/internal/taskconfig"
	"github.com/dukehal/segreview/internal/training"
	"github.com/dukehal/segreview/pkg/cerr"
)

// Engine owns the task database and the exchange client. All mutating
// operations take the reconciliation lock, so at most one sync, drift pass
// or review decision runs at a time; exchange calls happen while holding
// the lock.
type Engine struct {
	mu sync.Mutex

	client   mturk.Client
	tasks    task.Repository
	training training.Repository
	groups   expgroup.Repository
	configs  taskconfig.Repository
	poster   hitposter.Poster
	quals    *quals.Provider
	bus      *eventbus.Bus
}

func NewEngine(
	client mturk.Client,
	tasks task.Repository,
	trainingRepo training.Repository,
	groups expgroup.Repository,
	configs taskconfig.Repository,
	poster hitposter.Poster,
	qualProvider *quals.Provider,
	bus *eventbus.Bus,
) *Engine {
	return &Engine{
		client:   client,
		tasks:    tasks,
		training: trainingRepo,
		groups:   groups,
		configs:  configs,
		poster:   poster,
		quals:    qualProvider,
		bus:      bus,
	}
}

// SyncResult reports what one sync pass did.
type SyncResult struct {
	Scanned          int `json:"scanned"`
	Imported         int `json:"imported"`
	AutoRejected     int `json:"auto_rejected"`
	TrainingImported int `json:"training_imported"`
	SkippedForeign   int `json:"skipped_foreign"`
}

// DefaultBatchLimit bounds one reviewable listing when the caller does not
// say otherwise. The exchange rate-limits the listing call, so one pass asks
// for a bounded batch and relies on the under-review marking to page through
// the backlog across passes.
const DefaultBatchLimit = 100

// Sync pulls reviewable work from the exchange into the local database. The
// exchange is asked for at most batchLimit reviewable items, and every
// listed item is marked under review before anything else so the next
// listing serves fresh work instead of re-serving the same backlog. Items
// whose annotation does not name a known experiment group belong to some
// other requester workflow and get no further handling. Submissions with no
// usable annotation are rejected immediately and a replacement task is
// posted. Training submissions are then collected for every training task
// this database knows about, since a marked training item stops showing up
// as reviewable while it keeps accepting submissions.
func (e *Engine) Sync(ctx context.Context, batchLimit int) (*SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	knownIDs, err := expgroup.KnownIDs(ctx, e.groups)
	if err != nil {
		return nil, err
	}
	hits, err := e.client.ListReviewableHITs(ctx, batchLimit)
	if err != nil {
		return nil, cerr.NewError(cerr.Unavailable, "failed to list reviewable work", err)
	}

	res := &SyncResult{Scanned: len(hits)}
	listedTraining := make(map[string]string)
	for _, hit := range hits {
		if err := e.client.MarkUnderReview(ctx, hit.ID); err != nil {
			slog.Warn("failed to mark item under review", "hit_id", hit.ID, "error", err)
		}
		if !knownIDs[hit.Annotation] {
			res.SkippedForeign++
			continue
		}
		if expgroup.IsTraining(hit.Annotation) {
			listedTraining[hit.ID] = hit.Annotation
			continue
		}

		imported, rejected, err := e.syncHIT(ctx, hit)
		if err != nil {
			slog.Warn("failed to sync item", "hit_id", hit.ID, "error", err)
			continue
		}
		res.Imported += imported
		res.AutoRejected += rejected
	}

	n, err := e.syncTraining(ctx, listedTraining)
	if err != nil {
		return res, err
	}
	res.TrainingImported = n
	return res, nil
}

// syncTraining records submitted training assignments. The scan covers
// every training task with a local record plus the ids just seen in the
// reviewable listing, so collection continues after the listing stops
// returning a marked item.
func (e *Engine) syncTraining(ctx context.Context, listed map[string]string) (int, error) {
	env := e.client.Environment()
	ids := make(map[string]string, len(listed))
	for id, group := range listed {
		ids[id] = group
	}

	groups, err := e.groups.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, g := range groups {
		if g.Environment != env || !expgroup.IsTraining(g.ID) {
			continue
		}
		posted, err := e.tasks.List(ctx, env, g.ID, "")
		if err != nil {
			return 0, err
		}
		for _, t := range posted {
			ids[t.ID] = t.ExpGroup
		}
	}
	recorded, err := e.training.List(ctx, env, "")
	if err != nil {
		return 0, err
	}
	for _, a := range recorded {
		if _, ok := ids[a.TaskID]; !ok {
			ids[a.TaskID] = a.ExpGroup
		}
	}

	imported := 0
	for id, group := range ids {
		n, err := e.syncTrainingHIT(ctx, mturk.HIT{ID: id, Annotation: group})
		if err != nil {
			slog.Warn("failed to sync training item", "hit_id", id, "error", err)
			continue
		}
		imported += n
	}
	return imported, nil
}

// syncHIT ingests the submission on one of our HITs. Returns how many
// records were imported and how many were auto-rejected as empty.
func (e *Engine) syncHIT(ctx context.Context, hit mturk.HIT) (int, int, error) {
	assignments, err := e.client.ListAssignments(ctx, hit.ID, []mturk.AssignmentStatus{mturk.AssignmentSubmitted})
	if err != nil {
		return 0, 0, err
	}
	if len(assignments) == 0 {
		return 0, 0, nil
	}
	// Tasks are posted with a single assignment slot, so anything beyond the
	// first submission means the exchange and this system disagree about the
	// task configuration. Review the first, log the rest.
	if len(assignments) > 1 {
		slog.Warn("task has multiple submissions, reviewing the first",
			"hit_id", hit.ID, "count", len(assignments))
	}
	a := assignments[0]

	rec, err := e.ingestAssignment(ctx, hit, a)
	if err != nil {
		return 0, 0, err
	}
	if rec == nil {
		return 0, 0, nil
	}

	rejected := 0
	if answer.IsEmpty(rec.InteractionLog, rec.AnnotationInProgress, rec.AnnotationFinal) {
		if err := e.rejectEmpty(ctx, rec); err != nil {
			slog.Warn("failed to auto-reject empty submission",
				"task_id", rec.ID, "assignment_id", rec.AssignmentID, "error", err)
		} else {
			rejected = 1
		}
	}
	return 1, rejected, nil
}

// ingestAssignment upserts the local record for a submitted assignment.
// Returns nil when the local record is already terminal, which means a
// previous pass decided this task and the exchange listing is stale.
func (e *Engine) ingestAssignment(ctx context.Context, hit mturk.HIT, a mturk.Assignment) (*task.Task, error) {
	fields := answer.ParsePayload(a.Answer)
	now := time.Now()

	existing, err := e.tasks.Get(ctx, hit.ID)
	switch {
	case err == nil:
		if existing.Status.Terminal() {
			return nil, nil
		}
		existing.MergeAssignment(&task.Task{
			Status:               task.StatusSubmitted,
			AssignmentID:         a.ID,
			WorkerID:             a.WorkerID,
			AutoApproveDeadline:  a.AutoApproveAt,
			InteractionLog:       fields.InteractionLog,
			AnnotationInProgress: fields.AnnotationInProgress,
			AnnotationFinal:      fields.AnnotationFinal,
		})
		existing.UpdatedAt = now
		if err := e.tasks.Update(ctx, existing); err != nil {
			return nil, err
		}
		e.bus.PublishNew(eventbus.TypeTaskSynced, existing.ID, "", map[string]string{"exp_group": existing.ExpGroup})
		return existing, nil
	case cerr.IsCode(err, cerr.NotFound):
		// Posted outside this database (or the record was lost). Import what
		// the exchange knows; content parameters are unrecoverable from the
		// submission alone.
		rec := &task.Task{
			ID:                   hit.ID,
			Environment:          e.client.Environment(),
			ExpGroup:             hit.Annotation,
			Status:               task.StatusSubmitted,
			AssignmentID:         a.ID,
			WorkerID:             a.WorkerID,
			AutoApproveDeadline:  a.AutoApproveAt,
			InteractionLog:       fields.InteractionLog,
			AnnotationInProgress: fields.AnnotationInProgress,
			AnnotationFinal:      fields.AnnotationFinal,
			CreatedAt:            hit.CreatedAt,
			UpdatedAt:            now,
		}
		if err := e.tasks.Upsert(ctx, rec); err != nil {
			return nil, err
		}
		e.bus.PublishNew(eventbus.TypeTaskSynced, rec.ID, "", map[string]string{"exp_group": rec.ExpGroup})
		return rec, nil
	default:
		return nil, err
	}
}

// syncTrainingHIT records every submitted assignment on one training task.
// Submissions already recorded by an earlier pass are skipped.
func (e *Engine) syncTrainingHIT(ctx context.Context, hit mturk.HIT) (int, error) {
	assignments, err := e.client.ListAssignments(ctx, hit.ID, []mturk.AssignmentStatus{mturk.AssignmentSubmitted})
	if err != nil {
		return 0, err
	}
	imported := 0
	for _, a := range assignments {
		fields := answer.ParsePayload(a.Answer)
		rec := &training.Assignment{
			TaskID:               hit.ID,
			AssignmentID:         a.ID,
			Environment:          e.client.Environment(),
			ExpGroup:             hit.Annotation,
			Status:               task.StatusSubmitted,
			WorkerID:             a.WorkerID,
			AutoApproveDeadline:  a.AutoApproveAt,
			InteractionLog:       fields.InteractionLog,
			AnnotationInProgress: fields.AnnotationInProgress,
			AnnotationFinal:      fields.AnnotationFinal,
			QualScore:            training.QualUnreviewed,
		}
		if err := e.training.Create(ctx, rec); err != nil {
			if cerr.IsCode(err, cerr.AlreadyExists) {
				slog.Warn("training submission already recorded, skipping",
					"task_id", hit.ID, "assignment_id", a.ID)
				continue
			}
			return imported, err
		}
		imported++
	}
	return imported, nil
}

// DriftResult reports what one drift pass corrected.
type DriftResult struct {
	SubmittedChecked  int `json:"submitted_checked"`
	TerminalCorrected int `json:"terminal_corrected"`
	OpenChecked       int `json:"open_checked"`
	OpenIngested      int `json:"open_ingested"`
}

// ReconcileDrift repairs records that fell out of step with the exchange.
// Locally Submitted tasks whose assignment was meanwhile decided on the
// exchange side (auto-approval after the deadline, a decision from another
// tool) are overwritten with the exchange's verdict; the exchange is
// authoritative for decisions. Locally Open tasks are checked for
// submissions that a sync pass missed.
func (e *Engine) ReconcileDrift(ctx context.Context) (*DriftResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := &DriftResult{}
	env := e.client.Environment()

	submitted, err := e.tasks.List(ctx, env, "", task.StatusSubmitted)
	if err != nil {
		return nil, err
	}
	for _, t := range submitted {
		res.SubmittedChecked++
		a, err := e.client.GetAssignment(ctx, t.AssignmentID)
		if err != nil {
			slog.Warn("failed to check assignment for drift", "task_id", t.ID, "error", err)
			continue
		}
		var corrected task.Status
		switch a.Status {
		case mturk.AssignmentApproved:
			corrected = task.StatusApproved
		case mturk.AssignmentRejected:
			corrected = task.StatusRejected
		default:
			continue
		}
		t.Status = corrected
		t.UpdatedAt = time.Now()
		if err := e.tasks.Update(ctx, t); err != nil {
			return nil, err
		}
		res.TerminalCorrected++
		e.bus.PublishNew(eventbus.TypeDriftCorrected, t.ID, string(corrected), nil)
	}

	open, err := e.tasks.List(ctx, env, "", task.StatusOpen)
	if err != nil {
		return nil, err
	}
	for _, t := range open {
		res.OpenChecked++
		assignments, err := e.client.ListAssignments(ctx, t.ID, nil)
		if err != nil {
			slog.Warn("failed to list assignments for drift", "task_id", t.ID, "error", err)
			continue
		}
		if len(assignments) == 0 {
			continue
		}
		a := assignments[0]
		fields := answer.ParsePayload(a.Answer)
		t.MergeAssignment(&task.Task{
			Status:               statusFromAssignment(a.Status),
			AssignmentID:         a.ID,
			WorkerID:             a.WorkerID,
			AutoApproveDeadline:  a.AutoApproveAt,
			InteractionLog:       fields.InteractionLog,
			AnnotationInProgress: fields.AnnotationInProgress,
			AnnotationFinal:      fields.AnnotationFinal,
		})
		t.UpdatedAt = time.Now()
		if err := e.tasks.Update(ctx, t); err != nil {
			return nil, err
		}
		res.OpenIngested++
		e.bus.PublishNew(eventbus.TypeDriftCorrected, t.ID, string(t.Status), nil)
	}
	return res, nil
}

func statusFromAssignment(s mturk.AssignmentStatus) task.Status {
	switch s {
	case mturk.AssignmentApproved:
		return task.StatusApproved
	case mturk.AssignmentRejected:
		return task.StatusRejected
	default:
		return task.StatusSubmitted
	}
}

// NextForReview returns the submitted task with the nearest auto-approve
// deadline, with stored annotation strings repaired for display. Returns
// NotFound when nothing is waiting.
func (e *Engine) NextForReview(ctx context.Context) (*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list, err := e.tasks.List(ctx, e.client.Environment(), "", task.StatusSubmitted)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, cerr.NewError(cerr.NotFound, "no tasks waiting for review", nil)
	}
	t := list[0]
	t.AnnotationInProgress = answer.NormalizeStored(t.AnnotationInProgress)
	t.AnnotationFinal = answer.NormalizeStored(t.AnnotationFinal)
	return t, nil
}

// NextTraining returns the oldest unscored training submission. A batch
// payout does not take a submission out of the scoring queue; only a
// recorded score does.
func (e *Engine) NextTraining(ctx context.Context) (*training.Assignment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list, err := e.training.List(ctx, e.client.Environment(), "")
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if a.QualScore == training.QualUnreviewed {
			a.AnnotationInProgress = answer.NormalizeStored(a.AnnotationInProgress)
			a.AnnotationFinal = answer.NormalizeStored(a.AnnotationFinal)
			return a, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "no training submissions waiting for review", nil)
}

// ExpireTask removes an open task from the marketplace before its lifetime
// ends. The local record is kept so a later drift pass can ingest any
// submission that raced the expiration.
func (e *Engine) ExpireTask(ctx context.Context, taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != task.StatusOpen {
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("task %s is %s, only open tasks can be expired", taskID, t.Status), nil)
	}
	if err := e.client.ExpireHIT(ctx, taskID); err != nil {
		return cerr.NewError(cerr.Unavailable, "failed to expire task on the exchange", err)
	}
	return nil
}

// RemoveResult reports what a group removal pass did.
type RemoveResult struct {
	Checked int `json:"checked"`
	Deleted int `json:"deleted"`
	Expired int `json:"expired"`
}

// RemoveOpenTasks pulls a group's open tasks off the marketplace. The
// exchange only deletes tasks nobody is working on, so a refused delete
// falls back to forced expiry; the expired record stays so a later drift
// pass can ingest a submission that raced the removal. Deleted tasks are
// dropped from the local database as well.
func (e *Engine) RemoveOpenTasks(ctx context.Context, groupID string) (*RemoveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	open, err := e.tasks.List(ctx, e.client.Environment(), groupID, task.StatusOpen)
	if err != nil {
		return nil, err
	}
	res := &RemoveResult{}
	for _, t := range open {
		res.Checked++
		if err := e.client.DeleteHIT(ctx, t.ID); err == nil {
			if err := e.tasks.Delete(ctx, t.ID); err != nil {
				return res, err
			}
			res.Deleted++
			continue
		}
		if err := e.client.ExpireHIT(ctx, t.ID); err != nil {
			slog.Warn("failed to expire task during removal", "task_id", t.ID, "error", err)
			continue
		}
		res.Expired++
	}
	return res, nil
}
