package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukehal/segreview/internal/answer"
	"github.com/dukehal/segreview/internal/eventbus"
	"github.com/dukehal/segreview/internal/mturk"
	"github.com/dukehal/segreview/internal/task"
	"github.com/dukehal/segreview/internal/taskconfig"
	"github.com/dukehal/segreview/internal/training"
	"github.com/dukehal/segreview/pkg/cerr"
)

// RejectReason selects the worker-facing feedback for a rejection.
type RejectReason string

const (
	ReasonEmpty      RejectReason = "empty"
	ReasonTooFew     RejectReason = "too_few"
	ReasonInaccurate RejectReason = "inaccurate"
)

const (
	feedbackEmpty      = "No segment annotation provided"
	feedbackTooFew     = "Too few annotations provided. Needed to annotate at least %d objects"
	feedbackInaccurate = "Segment annotation too inaccurate"
)

// FeedbackFor renders the worker-facing message for a reason. requiredObjects
// is only used for ReasonTooFew.
func FeedbackFor(reason RejectReason, requiredObjects int) (string, error) {
	switch reason {
	case ReasonEmpty:
		return feedbackEmpty, nil
	case ReasonTooFew:
		return fmt.Sprintf(feedbackTooFew, requiredObjects), nil
	case ReasonInaccurate:
		return feedbackInaccurate, nil
	}
	return "", cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown reject reason %q", reason), nil)
}

// Approve accepts a submitted task's work and pays the worker. Approving a
// task that is already approved is a no-op. When the exchange has already
// decided the assignment, the exchange's verdict is adopted instead.
func (e *Engine) Approve(ctx context.Context, taskID, feedback string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	return e.approveLocked(ctx, t, feedback)
}

func (e *Engine) approveLocked(ctx context.Context, t *task.Task, feedback string) error {
	switch t.Status {
	case task.StatusApproved:
		return nil
	case task.StatusRejected:
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("task %s is rejected, use override to approve", t.ID), nil)
	case task.StatusSubmitted:
	default:
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("task %s has no submission to approve", t.ID), nil)
	}

	if err := e.client.ApproveAssignment(ctx, t.AssignmentID, feedback, false); err != nil {
		if !mturk.IsInvalidState(err) {
			return cerr.NewError(cerr.Unavailable, "failed to approve on the exchange", err)
		}
		// Decided on the exchange side already, e.g. auto-approved past the
		// deadline. Adopt whatever the exchange settled on.
		a, gerr := e.client.GetAssignment(ctx, t.AssignmentID)
		if gerr != nil {
			return cerr.NewError(cerr.Unavailable, "failed to read settled assignment", gerr)
		}
		slog.Warn("assignment already settled on the exchange",
			"task_id", t.ID, "assignment_id", t.AssignmentID, "status", a.Status)
		t.Status = statusFromAssignment(a.Status)
		t.UpdatedAt = time.Now()
		if uerr := e.tasks.Update(ctx, t); uerr != nil {
			return uerr
		}
		return nil
	}

	t.Status = task.StatusApproved
	t.UpdatedAt = time.Now()
	if err := e.tasks.Update(ctx, t); err != nil {
		return err
	}
	e.bus.PublishNew(eventbus.TypeTaskApproved, t.ID, "", map[string]string{"worker_id": t.WorkerID})
	return nil
}

// RejectAndRepost rejects a submitted task and posts a replacement with
// identical content parameters and a fresh external id. Returns the new
// task's id, or empty when the record lacks the parameters to repost.
func (e *Engine) RejectAndRepost(ctx context.Context, taskID string, reason RejectReason) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return "", err
	}
	if t.Status != task.StatusSubmitted {
		return "", cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("task %s is %s, only submitted tasks can be rejected", taskID, t.Status), nil)
	}

	required := 0
	if reason == ReasonTooFew {
		if g, gerr := e.groups.Get(ctx, t.ExpGroup, t.Environment); gerr == nil {
			required = g.NumObjects
		}
	}
	feedback, err := FeedbackFor(reason, required)
	if err != nil {
		return "", err
	}
	return e.rejectLocked(ctx, t, feedback)
}

// rejectEmpty is the sync path's auto-rejection. Caller holds the lock.
func (e *Engine) rejectEmpty(ctx context.Context, t *task.Task) error {
	_, err := e.rejectLocked(ctx, t, feedbackEmpty)
	return err
}

func (e *Engine) rejectLocked(ctx context.Context, t *task.Task, feedback string) (string, error) {
	if err := e.client.RejectAssignment(ctx, t.AssignmentID, feedback); err != nil {
		if !mturk.IsInvalidState(err) {
			return "", cerr.NewError(cerr.Unavailable, "failed to reject on the exchange", err)
		}
		slog.Warn("assignment already settled on the exchange, recording rejection locally",
			"task_id", t.ID, "assignment_id", t.AssignmentID)
	}

	t.Status = task.StatusRejected
	t.UpdatedAt = time.Now()
	if err := e.tasks.Update(ctx, t); err != nil {
		return "", err
	}
	e.bus.PublishNew(eventbus.TypeTaskRejected, t.ID, feedback, map[string]string{"worker_id": t.WorkerID})

	newID, err := e.repostLocked(ctx, t)
	if err != nil {
		// The rejection stands; the replacement can be posted again by hand.
		slog.Error("failed to repost replacement task", "task_id", t.ID, "error", err)
		return "", nil
	}
	return newID, nil
}

// repostLocked posts a replacement for a rejected task with the same content
// parameters. Records imported from the exchange without parameters cannot
// be reposted.
func (e *Engine) repostLocked(ctx context.Context, t *task.Task) (string, error) {
	if t.ImageURL == "" {
		slog.Warn("task has no content parameters, skipping repost", "task_id", t.ID)
		return "", nil
	}
	group, err := e.groups.Get(ctx, t.ExpGroup, t.Environment)
	if err != nil {
		return "", err
	}
	cfg := taskconfig.Config{
		ExpGroup:       t.ExpGroup,
		ImageURL:       t.ImageURL,
		AnnotationMode: t.AnnotationMode,
		Classes:        t.Classes,
		PreAnnotations: sanitizeParam(t.PreAnnotations),
	}
	newID, err := e.poster.Post(ctx, cfg, *group)
	if err != nil {
		return "", err
	}
	now := time.Now()
	replacement := &task.Task{
		ID:             newID,
		Environment:    t.Environment,
		ExpGroup:       t.ExpGroup,
		ImageURL:       t.ImageURL,
		Classes:        t.Classes,
		AnnotationMode: t.AnnotationMode,
		PreAnnotations: cfg.PreAnnotations,
		Status:         task.StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.tasks.Create(ctx, replacement); err != nil {
		return "", err
	}
	e.bus.PublishNew(eventbus.TypeTaskReposted, newID, "", map[string]string{"replaces": t.ID})
	return newID, nil
}

// sanitizeParam clears the UI's "no value" sentinel so a reposted task does
// not render the literal string.
func sanitizeParam(s string) string {
	if s == answer.NoneSentinel {
		return ""
	}
	return s
}

// OverrideRejection reverses a rejection and pays the worker. The exchange
// allows this once per assignment.
func (e *Engine) OverrideRejection(ctx context.Context, taskID, feedback string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != task.StatusRejected {
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("task %s is %s, only rejected tasks can be overridden", taskID, t.Status), nil)
	}
	if err := e.client.ApproveAssignment(ctx, t.AssignmentID, feedback, true); err != nil {
		return cerr.NewError(cerr.Unavailable, "failed to override rejection on the exchange", err)
	}
	t.Status = task.StatusApproved
	t.UpdatedAt = time.Now()
	if err := e.tasks.Update(ctx, t); err != nil {
		return err
	}
	e.bus.PublishNew(eventbus.TypeTaskApproved, t.ID, "override", map[string]string{"worker_id": t.WorkerID})
	return nil
}

// ApproveTrainingBatch pays out every submitted training assignment without
// scoring it. Training attempts are paid work whatever the outcome, so an
// operator runs this ahead of the auto-approval deadline; scoring stays
// available afterwards. Returns how many assignments were approved.
func (e *Engine) ApproveTrainingBatch(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list, err := e.training.List(ctx, e.client.Environment(), task.StatusSubmitted)
	if err != nil {
		return 0, err
	}
	approved := 0
	for _, a := range list {
		if err := e.client.ApproveAssignment(ctx, a.AssignmentID, "", false); err != nil && !mturk.IsInvalidState(err) {
			slog.Warn("failed to approve training submission",
				"task_id", a.TaskID, "assignment_id", a.AssignmentID, "error", err)
			continue
		}
		a.Status = task.StatusApproved
		if err := e.training.Update(ctx, a); err != nil {
			return approved, err
		}
		approved++
	}
	return approved, nil
}

// ScoreTraining records the reviewer's verdict on a training submission. The
// assignment is approved on the exchange either way; a training attempt is
// paid work. A passing score grants the segmentation qualification.
func (e *Engine) ScoreTraining(ctx context.Context, taskID, assignmentID string, pass bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.training.Get(ctx, taskID, assignmentID)
	if err != nil {
		return err
	}
	if a.QualScore != training.QualUnreviewed {
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("training submission %s/%s is already scored", taskID, assignmentID), nil)
	}

	if err := e.client.ApproveAssignment(ctx, assignmentID, "", false); err != nil && !mturk.IsInvalidState(err) {
		return cerr.NewError(cerr.Unavailable, "failed to approve training submission", err)
	}

	score := training.QualFail
	if pass {
		score = training.QualPass
	}
	if err := e.quals.GrantSegmentationScore(ctx, a.WorkerID, int64(score)); err != nil {
		return cerr.NewError(cerr.Unavailable, "failed to grant qualification score", err)
	}

	a.QualScore = score
	a.Status = task.StatusApproved
	if err := e.training.Update(ctx, a); err != nil {
		return err
	}
	e.bus.PublishNew(eventbus.TypeTrainingScored, taskID, fmt.Sprintf("%d", score),
		map[string]string{"worker_id": a.WorkerID, "assignment_id": assignmentID})
	return nil
}
