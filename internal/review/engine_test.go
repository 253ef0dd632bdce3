package review

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukehal/segreview/internal/eventbus"
	"github.com/dukehal/segreview/internal/expgroup"
	expgroupimpl "github.com/dukehal/segreview/internal/expgroup/repositoryimpl"
	"github.com/dukehal/segreview/internal/hitposter"
	"github.com/dukehal/segreview/internal/mturk"
	"github.com/dukehal/segreview/internal/quals"
	"github.com/dukehal/segreview/internal/task"
	taskimpl "github.com/dukehal/segreview/internal/task/repositoryimpl"
	taskconfigimpl "github.com/dukehal/segreview/internal/taskconfig/repositoryimpl"
	"github.com/dukehal/segreview/internal/training"
	trainingimpl "github.com/dukehal/segreview/internal/training/repositoryimpl"
	"github.com/dukehal/segreview/pkg/storage"
)

// fakeClient is an in-memory stand-in for the exchange.
type fakeClient struct {
	hits        []mturk.HIT
	assignments map[string][]mturk.Assignment
	byID        map[string]mturk.Assignment

	approved      map[string]int
	rejected      map[string]string
	overridden    map[string]bool
	underReview   []string
	createdHITs   []mturk.HITParams
	grantedQuals  map[string]int64
	failApprove   error
	refuseDelete  map[string]bool
	deleted       []string
	expired       []string
	nextHITSerial int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		assignments:  map[string][]mturk.Assignment{},
		byID:         map[string]mturk.Assignment{},
		approved:     map[string]int{},
		rejected:     map[string]string{},
		overridden:   map[string]bool{},
		grantedQuals: map[string]int64{},
	}
}

func (f *fakeClient) Environment() task.Environment { return task.EnvSandbox }

func (f *fakeClient) ListReviewableHITs(ctx context.Context, limit int) ([]mturk.HIT, error) {
	if limit > 0 && len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeClient) MarkUnderReview(ctx context.Context, hitID string) error {
	f.underReview = append(f.underReview, hitID)
	return nil
}

func (f *fakeClient) ListAssignments(ctx context.Context, hitID string, statuses []mturk.AssignmentStatus) ([]mturk.Assignment, error) {
	if len(statuses) == 0 {
		return f.assignments[hitID], nil
	}
	var out []mturk.Assignment
	for _, a := range f.assignments[hitID] {
		for _, s := range statuses {
			if a.Status == s {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (f *fakeClient) GetAssignment(ctx context.Context, assignmentID string) (*mturk.Assignment, error) {
	a, ok := f.byID[assignmentID]
	if !ok {
		return nil, fmt.Errorf("assignment %s not found", assignmentID)
	}
	return &a, nil
}

func (f *fakeClient) ApproveAssignment(ctx context.Context, assignmentID, feedback string, overrideRejection bool) error {
	if f.failApprove != nil {
		return f.failApprove
	}
	f.approved[assignmentID]++
	if overrideRejection {
		f.overridden[assignmentID] = true
	}
	return nil
}

func (f *fakeClient) RejectAssignment(ctx context.Context, assignmentID, feedback string) error {
	f.rejected[assignmentID] = feedback
	return nil
}

func (f *fakeClient) CreateHIT(ctx context.Context, params mturk.HITParams) (string, error) {
	f.createdHITs = append(f.createdHITs, params)
	f.nextHITSerial++
	return fmt.Sprintf("HIT-NEW-%d", f.nextHITSerial), nil
}

func (f *fakeClient) ExpireHIT(ctx context.Context, hitID string) error {
	f.expired = append(f.expired, hitID)
	return nil
}

func (f *fakeClient) DeleteHIT(ctx context.Context, hitID string) error {
	if f.refuseDelete[hitID] {
		return &smithy.GenericAPIError{Code: "RequestError", Message: "HIT is not in a deletable state"}
	}
	f.deleted = append(f.deleted, hitID)
	return nil
}

func (f *fakeClient) FindQualificationType(ctx context.Context, query string) (string, error) {
	return "SEGQUAL", nil
}

func (f *fakeClient) CreateQualificationType(ctx context.Context, name, description string) (string, error) {
	return "SEGQUAL", nil
}

func (f *fakeClient) AssignQualification(ctx context.Context, qualTypeID, workerID string, value int64) error {
	f.grantedQuals[workerID] = value
	return nil
}

var _ mturk.Client = (*fakeClient)(nil)

type testEnv struct {
	engine   *Engine
	client   *fakeClient
	tasks    task.Repository
	training training.Repository
	groups   expgroup.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	client := newFakeClient()
	tasks := taskimpl.NewYAMLRepository(store)
	trainingRepo := trainingimpl.NewYAMLRepository(store)
	groups := expgroupimpl.NewYAMLRepository(store)
	configs := taskconfigimpl.NewYAMLRepository(store)
	qualProvider := quals.NewProvider(client)
	poster := hitposter.NewMTurkPoster(client, qualProvider, "https://annotate.example.com/task")
	engine := NewEngine(client, tasks, trainingRepo, groups, configs, poster, qualProvider, eventbus.New())
	return &testEnv{engine: engine, client: client, tasks: tasks, training: trainingRepo, groups: groups}
}

func (te *testEnv) addGroup(t *testing.T, id string, numObjects int) {
	t.Helper()
	require.NoError(t, te.groups.Put(context.Background(), &expgroup.Group{
		ID:          id,
		Environment: task.EnvSandbox,
		NumObjects:  numObjects,
		Reward:      0.06,
	}))
}

func answerPayload(log, inProgress, final string) string {
	var b strings.Builder
	b.WriteString(`<QuestionFormAnswers xmlns="http://mechanicalturk.amazonaws.com/AWSMechanicalTurkDataSchemas/2005-10-01/QuestionFormAnswers.xsd">`)
	for id, text := range map[string]string{
		"interaction_log":        log,
		"annotation_in_progress": inProgress,
		"result_data":            final,
	} {
		fmt.Fprintf(&b, "<Answer><QuestionIdentifier>%s</QuestionIdentifier><FreeText>%s</FreeText></Answer>", id, text)
	}
	b.WriteString("</QuestionFormAnswers>")
	return b.String()
}

func (f *fakeClient) addSubmission(hitID, group, assignmentID, workerID, payload string) {
	f.hits = append(f.hits, mturk.HIT{ID: hitID, Annotation: group, CreatedAt: time.Now()})
	a := mturk.Assignment{
		ID:            assignmentID,
		HITID:         hitID,
		WorkerID:      workerID,
		Status:        mturk.AssignmentSubmitted,
		Answer:        &payload,
		SubmittedAt:   time.Now(),
		AutoApproveAt: time.Now().Add(7 * 24 * time.Hour),
	}
	f.assignments[hitID] = append(f.assignments[hitID], a)
	f.byID[assignmentID] = a
}

const filledFinal = "[{'class':'car','strokes':[[1,2],[3,4]]},{'class':'person','strokes':[[5,6]]}]"

func TestEngine_Sync_ImportsOwnSubmissions(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)

	te.client.addSubmission("HIT-1", "g-1", "A-1", "W-1", answerPayload("start-click-submit", "None", filledFinal))
	te.client.addSubmission("HIT-2", "someone-elses-batch", "A-2", "W-2", answerPayload("start-click", "None", filledFinal))

	res, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.SkippedForeign)
	assert.Equal(t, 0, res.AutoRejected)

	rec, err := te.tasks.Get(ctx, "HIT-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSubmitted, rec.Status)
	assert.Equal(t, "A-1", rec.AssignmentID)
	assert.Equal(t, "W-1", rec.WorkerID)
	assert.Equal(t, "g-1", rec.ExpGroup)
	require.NotNil(t, rec.AnnotationFinal)
	assert.Equal(t, filledFinal, *rec.AnnotationFinal)

	// Every listed item leaves the reviewable state, the foreign one included.
	assert.Equal(t, []string{"HIT-1", "HIT-2"}, te.client.underReview)

	_, err = te.tasks.Get(ctx, "HIT-2")
	assert.Error(t, err)
}

func TestEngine_Sync_MarksItemsBeforeInspectingThem(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)

	// Listed with nothing submitted, e.g. the worker returned the task.
	te.client.hits = append(te.client.hits, mturk.HIT{ID: "HIT-IDLE", Annotation: "g-1", CreatedAt: time.Now()})

	// Already decided locally; the exchange listing is stale.
	now := time.Now()
	require.NoError(t, te.tasks.Create(ctx, &task.Task{
		ID:          "HIT-DONE",
		Environment: task.EnvSandbox,
		ExpGroup:    "g-1",
		Status:      task.StatusApproved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	te.client.addSubmission("HIT-DONE", "g-1", "A-DONE", "W-1", answerPayload("start", "None", filledFinal))

	res, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)

	// Neither item yields a record, but both must stop being listed so the
	// next pass spends its batch on fresh work.
	assert.Equal(t, []string{"HIT-IDLE", "HIT-DONE"}, te.client.underReview)
}

func TestEngine_Sync_Idempotent(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)
	te.client.addSubmission("HIT-1", "g-1", "A-1", "W-1", answerPayload("start-click-submit", "None", filledFinal))

	_, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)
	first, err := te.tasks.Get(ctx, "HIT-1")
	require.NoError(t, err)

	// The exchange still lists the item until it leaves reviewable state.
	_, err = te.engine.Sync(ctx, 0)
	require.NoError(t, err)

	second, err := te.tasks.Get(ctx, "HIT-1")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.AssignmentID, second.AssignmentID)

	all, err := te.tasks.List(ctx, task.EnvSandbox, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEngine_Sync_BatchLimit(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)
	for i := 0; i < 5; i++ {
		te.client.addSubmission(fmt.Sprintf("HIT-%d", i), "g-1", fmt.Sprintf("A-%d", i), "W-1",
			answerPayload("start-click-submit", "None", filledFinal))
	}

	res, err := te.engine.Sync(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Imported)
	// The limit bounds the listing request itself; the rest of the backlog
	// stays reviewable for the next pass.
	assert.Len(t, te.client.underReview, 2)
}

func TestEngine_Sync_AutoRejectsEmptyAndReposts(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)

	// Record created at post time, so content parameters are known.
	now := time.Now()
	require.NoError(t, te.tasks.Create(ctx, &task.Task{
		ID:             "HIT-1",
		Environment:    task.EnvSandbox,
		ExpGroup:       "g-1",
		ImageURL:       "https://img.example.com/0001.jpg",
		Classes:        "car,person",
		AnnotationMode: "polygon",
		Status:         task.StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
	te.client.addSubmission("HIT-1", "g-1", "A-1", "W-1", answerPayload("start", "None", "None"))

	res, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AutoRejected)

	rec, err := te.tasks.Get(ctx, "HIT-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusRejected, rec.Status)
	assert.Equal(t, "No segment annotation provided", te.client.rejected["A-1"])

	// The replacement carries identical content parameters under a new id.
	require.Len(t, te.client.createdHITs, 1)
	assert.Contains(t, te.client.createdHITs[0].Question, "img.example.com%2F0001.jpg")
	assert.Equal(t, "g-1", te.client.createdHITs[0].Annotation)

	replacement, err := te.tasks.Get(ctx, "HIT-NEW-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusOpen, replacement.Status)
	assert.Equal(t, rec.ImageURL, replacement.ImageURL)
	assert.Equal(t, rec.Classes, replacement.Classes)
	assert.Empty(t, replacement.AssignmentID)
}

func TestEngine_Sync_TrainingGroup(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "qual-a", expgroup.UnconstrainedObjectCount)
	te.client.addSubmission("HIT-Q1", "qual-a", "A-1", "W-1", answerPayload("start-click-submit", "None", filledFinal))

	res, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TrainingImported)
	assert.Equal(t, 0, res.Imported)

	rec, err := te.training.Get(ctx, "HIT-Q1", "A-1")
	require.NoError(t, err)
	assert.Equal(t, training.QualUnreviewed, rec.QualScore)

	// Training items are marked under review like everything else listed, and
	// re-syncing skips the already recorded submission.
	assert.Equal(t, []string{"HIT-Q1"}, te.client.underReview)
	res, err = te.engine.Sync(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TrainingImported)

	// A marked training item drops out of the reviewable listing but keeps
	// accepting submissions; later ones are picked up from the stored records.
	te.client.hits = nil
	late := answerPayload("start-click-submit", "None", filledFinal)
	a := mturk.Assignment{ID: "A-2", HITID: "HIT-Q1", WorkerID: "W-2", Status: mturk.AssignmentSubmitted, Answer: &late, SubmittedAt: time.Now()}
	te.client.assignments["HIT-Q1"] = append(te.client.assignments["HIT-Q1"], a)
	te.client.byID["A-2"] = a

	res, err = te.engine.Sync(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TrainingImported)
	_, err = te.training.Get(ctx, "HIT-Q1", "A-2")
	require.NoError(t, err)
}

func TestEngine_Approve(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)
	te.client.addSubmission("HIT-1", "g-1", "A-1", "W-1", answerPayload("start-click-submit", "None", filledFinal))
	_, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, te.engine.Approve(ctx, "HIT-1", "nice work"))
	rec, err := te.tasks.Get(ctx, "HIT-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusApproved, rec.Status)
	assert.Equal(t, 1, te.client.approved["A-1"])

	// Approving again is a no-op and does not call the exchange twice.
	require.NoError(t, te.engine.Approve(ctx, "HIT-1", "nice work"))
	assert.Equal(t, 1, te.client.approved["A-1"])
}

func TestEngine_Approve_AdoptsSettledVerdict(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)
	te.client.addSubmission("HIT-1", "g-1", "A-1", "W-1", answerPayload("start-click-submit", "None", filledFinal))
	_, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)

	// The exchange decided the assignment between sync and review.
	te.client.failApprove = &smithy.GenericAPIError{
		Code:    "RequestError",
		Message: "This operation can be called with a status of: Submitted",
	}
	settled := te.client.byID["A-1"]
	settled.Status = mturk.AssignmentRejected
	te.client.byID["A-1"] = settled

	require.NoError(t, te.engine.Approve(ctx, "HIT-1", ""))
	rec, err := te.tasks.Get(ctx, "HIT-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusRejected, rec.Status)
}

func TestEngine_RejectAndRepost(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 3)
	now := time.Now()
	require.NoError(t, te.tasks.Create(ctx, &task.Task{
		ID:             "HIT-1",
		Environment:    task.EnvSandbox,
		ExpGroup:       "g-1",
		ImageURL:       "https://img.example.com/0002.jpg",
		Classes:        "car,person",
		AnnotationMode: "polygon",
		PreAnnotations: "None",
		Status:         task.StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
	te.client.addSubmission("HIT-1", "g-1", "A-1", "W-1",
		answerPayload("start-click-submit", "None", "[{'class':'car','strokes':[[1,2]]}]"))
	_, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)

	newID, err := te.engine.RejectAndRepost(ctx, "HIT-1", ReasonTooFew)
	require.NoError(t, err)
	assert.Equal(t, "HIT-NEW-1", newID)

	assert.Equal(t, "Too few annotations provided. Needed to annotate at least 3 objects",
		te.client.rejected["A-1"])

	rec, err := te.tasks.Get(ctx, "HIT-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusRejected, rec.Status)

	replacement, err := te.tasks.Get(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusOpen, replacement.Status)
	assert.Equal(t, rec.ImageURL, replacement.ImageURL)
	// The UI sentinel is cleared before reposting.
	assert.Empty(t, replacement.PreAnnotations)

	// Rejecting twice fails: rejected is terminal.
	_, err = te.engine.RejectAndRepost(ctx, "HIT-1", ReasonTooFew)
	assert.Error(t, err)
}

func TestEngine_OverrideRejection(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)
	te.client.addSubmission("HIT-1", "g-1", "A-1", "W-1", answerPayload("start", "None", "None"))
	_, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)

	rec, err := te.tasks.Get(ctx, "HIT-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusRejected, rec.Status)

	require.NoError(t, te.engine.OverrideRejection(ctx, "HIT-1", "rejected in error"))
	rec, err = te.tasks.Get(ctx, "HIT-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusApproved, rec.Status)
	assert.True(t, te.client.overridden["A-1"])
}

func TestEngine_ReconcileDrift(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)
	te.client.addSubmission("HIT-1", "g-1", "A-1", "W-1", answerPayload("start-click-submit", "None", filledFinal))
	_, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)

	// Auto-approved on the exchange after the deadline passed.
	settled := te.client.byID["A-1"]
	settled.Status = mturk.AssignmentApproved
	te.client.byID["A-1"] = settled

	// An open task whose submission arrived between sync passes.
	now := time.Now()
	require.NoError(t, te.tasks.Create(ctx, &task.Task{
		ID:          "HIT-2",
		Environment: task.EnvSandbox,
		ExpGroup:    "g-1",
		ImageURL:    "https://img.example.com/0003.jpg",
		Status:      task.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	payload := answerPayload("start-click-submit", "None", filledFinal)
	a2 := mturk.Assignment{ID: "A-2", HITID: "HIT-2", WorkerID: "W-2", Status: mturk.AssignmentSubmitted, Answer: &payload}
	te.client.assignments["HIT-2"] = []mturk.Assignment{a2}
	te.client.byID["A-2"] = a2

	res, err := te.engine.ReconcileDrift(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TerminalCorrected)
	assert.Equal(t, 1, res.OpenIngested)

	rec, err := te.tasks.Get(ctx, "HIT-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusApproved, rec.Status)

	rec, err = te.tasks.Get(ctx, "HIT-2")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSubmitted, rec.Status)
	assert.Equal(t, "A-2", rec.AssignmentID)
	// Identity fields survive the merge.
	assert.Equal(t, "https://img.example.com/0003.jpg", rec.ImageURL)
}

func TestEngine_ScoreTraining(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "qual-a", expgroup.UnconstrainedObjectCount)
	te.client.addSubmission("HIT-Q1", "qual-a", "A-1", "W-1", answerPayload("start-click-submit", "None", filledFinal))
	_, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, te.engine.ScoreTraining(ctx, "HIT-Q1", "A-1", true))
	rec, err := te.training.Get(ctx, "HIT-Q1", "A-1")
	require.NoError(t, err)
	assert.Equal(t, training.QualPass, rec.QualScore)
	assert.Equal(t, int64(training.QualPass), te.client.grantedQuals["W-1"])
	assert.Equal(t, 1, te.client.approved["A-1"])

	// Scoring twice fails.
	err = te.engine.ScoreTraining(ctx, "HIT-Q1", "A-1", false)
	assert.Error(t, err)
}

func TestEngine_NextForReview(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)

	near := time.Now().Add(time.Hour)
	far := time.Now().Add(48 * time.Hour)
	escaped := `[{\"class\":\"car\",\"strokes\":[[1,2]]}]`
	for _, tt := range []struct {
		id       string
		deadline time.Time
	}{
		{"HIT-FAR", far},
		{"HIT-NEAR", near},
	} {
		require.NoError(t, te.tasks.Create(ctx, &task.Task{
			ID:                  tt.id,
			Environment:         task.EnvSandbox,
			ExpGroup:            "g-1",
			Status:              task.StatusSubmitted,
			AssignmentID:        "A-" + tt.id,
			AutoApproveDeadline: tt.deadline,
			AnnotationFinal:     &escaped,
			CreatedAt:           time.Now(),
			UpdatedAt:           time.Now(),
		}))
	}

	next, err := te.engine.NextForReview(ctx)
	require.NoError(t, err)
	assert.Equal(t, "HIT-NEAR", next.ID)
	require.NotNil(t, next.AnnotationFinal)
	assert.Equal(t, "[{'class':'car','strokes':[[1,2]]}]", *next.AnnotationFinal)
}

func TestEngine_RemoveOpenTasks(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)

	for _, id := range []string{"HIT-IDLE", "HIT-BUSY"} {
		require.NoError(t, te.tasks.Create(ctx, &task.Task{
			ID:          id,
			Environment: task.EnvSandbox,
			ExpGroup:    "g-1",
			ImageURL:    "https://img.example.com/0001.jpg",
			Status:      task.StatusOpen,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}))
	}
	// A worker holds HIT-BUSY, so the exchange refuses to delete it.
	te.client.refuseDelete = map[string]bool{"HIT-BUSY": true}

	res, err := te.engine.RemoveOpenTasks(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, []string{"HIT-IDLE"}, te.client.deleted)
	assert.Equal(t, []string{"HIT-BUSY"}, te.client.expired)

	// The deleted task is gone; the expired one stays for a later drift pass.
	_, err = te.tasks.Get(ctx, "HIT-IDLE")
	assert.Error(t, err)
	kept, err := te.tasks.Get(ctx, "HIT-BUSY")
	require.NoError(t, err)
	assert.Equal(t, task.StatusOpen, kept.Status)
}

func TestEngine_ApproveTrainingBatch(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	te.addGroup(t, "qual-a", expgroup.UnconstrainedObjectCount)
	te.client.addSubmission("HIT-Q1", "qual-a", "A-1", "W-1", answerPayload("start-click-submit", "None", filledFinal))
	te.client.addSubmission("HIT-Q2", "qual-a", "A-2", "W-2", answerPayload("start-click-submit", "None", filledFinal))
	_, err := te.engine.Sync(ctx, 0)
	require.NoError(t, err)

	n, err := te.engine.ApproveTrainingBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, te.client.approved["A-1"])
	assert.Equal(t, 1, te.client.approved["A-2"])

	// Payout does not score: the submissions still queue for review.
	next, err := te.engine.NextTraining(ctx)
	require.NoError(t, err)
	assert.Equal(t, training.QualUnreviewed, next.QualScore)

	require.NoError(t, te.engine.ScoreTraining(ctx, next.TaskID, next.AssignmentID, true))

	// A second pass finds nothing submitted.
	n, err = te.engine.ApproveTrainingBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
