package task

import (
	"fmt"
	"time"
)

// Environment distinguishes the worker-exchange endpoint a task was posted
// to. Sandbox tasks and production tasks never mix: the same group id can
// exist once in each environment.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvSandbox, EnvProduction:
		return Environment(s), nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// Status tracks a task through its single-assignment lifecycle:
// Open -> Submitted -> Approved or Rejected. Both Approved and Rejected are
// terminal; a rejected task is never reopened, a replacement task is posted
// instead.
type Status string

const (
	StatusOpen      Status = "Open"
	StatusSubmitted Status = "Submitted"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Task is one unit of postable work on the external exchange (a HIT). The
// ID is the opaque identifier the exchange assigned at creation time.
// AssignmentID and the fields after it stay empty until a worker accepts
// and submits the task.
type Task struct {
	ID                   string      `yaml:"id" json:"id"`
	Environment          Environment `yaml:"environment" json:"environment"`
	ExpGroup             string      `yaml:"exp_group" json:"exp_group"`
	ImageURL             string      `yaml:"image_url" json:"image_url"`
	Classes              string      `yaml:"classes" json:"classes"`
	AnnotationMode       string      `yaml:"annotation_mode" json:"annotation_mode"`
	PreAnnotations       string      `yaml:"pre_annotations" json:"pre_annotations"`
	Status               Status      `yaml:"status" json:"status"`
	AssignmentID         string      `yaml:"assignment_id" json:"assignment_id"`
	WorkerID             string      `yaml:"worker_id" json:"worker_id"`
	AutoApproveDeadline  time.Time   `yaml:"auto_approve_deadline" json:"auto_approve_deadline"`
	InteractionLog       *string     `yaml:"interaction_log" json:"interaction_log"`
	AnnotationInProgress *string     `yaml:"annotation_in_progress" json:"annotation_in_progress"`
	AnnotationFinal      *string     `yaml:"annotation_final" json:"annotation_final"`
	CreatedAt            time.Time   `yaml:"created_at" json:"created_at"`
	UpdatedAt            time.Time   `yaml:"updated_at" json:"updated_at"`
}

// MergeAssignment copies assignment-scoped fields from src onto t. Identity
// fields (id, environment, group, content parameters) are never overwritten;
// assignment fields are last-write-wins.
func (t *Task) MergeAssignment(src *Task) {
	t.Status = src.Status
	t.AssignmentID = src.AssignmentID
	t.WorkerID = src.WorkerID
	t.AutoApproveDeadline = src.AutoApproveDeadline
	t.InteractionLog = src.InteractionLog
	t.AnnotationInProgress = src.AnnotationInProgress
	t.AnnotationFinal = src.AnnotationFinal
}
