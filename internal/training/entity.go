package training

import (
	"time"

	"github.com/dukehal/segreview/internal/task"
)

// Qualification review outcome for a training assignment.
const (
	QualUnreviewed = -1
	QualFail       = 0
	QualPass       = 1
)

// Assignment is one worker's attempt at a training task. Unlike main-workflow
// tasks, a training task legitimately collects many assignments over its
// lifetime, so the identity is the (TaskID, AssignmentID) pair.
type Assignment struct {
	TaskID               string           `yaml:"task_id" json:"task_id"`
	AssignmentID         string           `yaml:"assignment_id" json:"assignment_id"`
	Environment          task.Environment `yaml:"environment" json:"environment"`
	ExpGroup             string           `yaml:"exp_group" json:"exp_group"`
	ImageURL             string           `yaml:"image_url" json:"image_url"`
	Classes              string           `yaml:"classes" json:"classes"`
	AnnotationMode       string           `yaml:"annotation_mode" json:"annotation_mode"`
	PreAnnotations       string           `yaml:"pre_annotations" json:"pre_annotations"`
	Status               task.Status      `yaml:"status" json:"status"`
	WorkerID             string           `yaml:"worker_id" json:"worker_id"`
	AutoApproveDeadline  time.Time        `yaml:"auto_approve_deadline" json:"auto_approve_deadline"`
	InteractionLog       *string          `yaml:"interaction_log" json:"interaction_log"`
	AnnotationInProgress *string          `yaml:"annotation_in_progress" json:"annotation_in_progress"`
	AnnotationFinal      *string          `yaml:"annotation_final" json:"annotation_final"`
	QualScore            int              `yaml:"qual_score" json:"qual_score"`
}

func Key(taskID, assignmentID string) string {
	return taskID + "__" + assignmentID
}
