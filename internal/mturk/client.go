package mturk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/mturk"
	"github.com/aws/aws-sdk-go-v2/service/mturk/types"
	"github.com/aws/smithy-go"
	"github.com/oklog/ulid/v2"

	"github.com/dukehal/segreview/internal/task"
)

const (
	sandboxEndpoint = "https://mturk-requester-sandbox.us-east-1.amazonaws.com"
	region          = "us-east-1"
)

// AssignmentStatus is the review state of an assignment on the exchange side.
type AssignmentStatus string

const (
	AssignmentSubmitted AssignmentStatus = "Submitted"
	AssignmentApproved  AssignmentStatus = "Approved"
	AssignmentRejected  AssignmentStatus = "Rejected"
)

// HIT is the exchange-side unit of work. Annotation carries the experiment
// group id this HIT was posted under, which is how tasks posted by this
// system are told apart from unrelated HITs on the same requester account.
type HIT struct {
	ID         string
	Annotation string
	Title      string
	CreatedAt  time.Time
	Expiration time.Time
}

// Assignment is a worker's submission against a HIT.
type Assignment struct {
	ID            string
	HITID         string
	WorkerID      string
	Status        AssignmentStatus
	Answer        *string
	SubmittedAt   time.Time
	AutoApproveAt time.Time
}

// Comparator selects how a qualification requirement is evaluated.
type Comparator string

const (
	ComparatorExists      Comparator = "Exists"
	ComparatorGreaterThan Comparator = "GreaterThan"
	ComparatorIn          Comparator = "In"
)

// Qualification is a requirement attached to a posted HIT.
type Qualification struct {
	TypeID     string
	Comparator Comparator
	IntValues  []int64
	Countries  []string
}

// HITParams holds everything needed to post a HIT. Reward is a dollar amount
// string, e.g. "0.06".
type HITParams struct {
	Title              string
	Description        string
	Keywords           string
	Question           string
	Reward             string
	AssignmentDuration time.Duration
	Lifetime           time.Duration
	AutoApprovalDelay  time.Duration
	MaxAssignments     int32
	Annotation         string
	Qualifications     []Qualification
}

// Client is the interface to the crowd-work exchange. The production
// implementation talks to Mechanical Turk; tests substitute a fake.
type Client interface {
	Environment() task.Environment

	// ListReviewableHITs returns at most limit reviewable HITs. The listing
	// call is rate limited, so callers page through the backlog across
	// passes rather than draining it in one.
	ListReviewableHITs(ctx context.Context, limit int) ([]HIT, error)
	MarkUnderReview(ctx context.Context, hitID string) error
	ListAssignments(ctx context.Context, hitID string, statuses []AssignmentStatus) ([]Assignment, error)
	GetAssignment(ctx context.Context, assignmentID string) (*Assignment, error)

	ApproveAssignment(ctx context.Context, assignmentID, feedback string, overrideRejection bool) error
	RejectAssignment(ctx context.Context, assignmentID, feedback string) error

	CreateHIT(ctx context.Context, params HITParams) (string, error)
	ExpireHIT(ctx context.Context, hitID string) error
	DeleteHIT(ctx context.Context, hitID string) error

	FindQualificationType(ctx context.Context, query string) (string, error)
	CreateQualificationType(ctx context.Context, name, description string) (string, error)
	AssignQualification(ctx context.Context, qualTypeID, workerID string, value int64) error
}

// AWSClient implements Client against the Mechanical Turk requester API.
type AWSClient struct {
	client *mturk.Client
	env    task.Environment
}

// NewAWSClient creates a client for the given environment. Sandbox and
// production share credentials but use different endpoints and completely
// separate HIT namespaces.
func NewAWSClient(ctx context.Context, env task.Environment) (*AWSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := mturk.NewFromConfig(cfg, func(o *mturk.Options) {
		if env == task.EnvSandbox {
			o.BaseEndpoint = aws.String(sandboxEndpoint)
		}
	})
	return &AWSClient{client: client, env: env}, nil
}

func (c *AWSClient) Environment() task.Environment {
	return c.env
}

func (c *AWSClient) ListReviewableHITs(ctx context.Context, limit int) ([]HIT, error) {
	out, err := c.client.ListReviewableHITs(ctx, &mturk.ListReviewableHITsInput{
		MaxResults: aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reviewable HITs: %w", err)
	}
	hits := make([]HIT, 0, len(out.HITs))
	for _, h := range out.HITs {
		hits = append(hits, convertHIT(h))
	}
	return hits, nil
}

func (c *AWSClient) MarkUnderReview(ctx context.Context, hitID string) error {
	_, err := c.client.UpdateHITReviewStatus(ctx, &mturk.UpdateHITReviewStatusInput{
		HITId:  aws.String(hitID),
		Revert: aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("failed to mark HIT %s under review: %w", hitID, err)
	}
	return nil
}

func (c *AWSClient) ListAssignments(ctx context.Context, hitID string, statuses []AssignmentStatus) ([]Assignment, error) {
	var filter []types.AssignmentStatus
	for _, s := range statuses {
		filter = append(filter, types.AssignmentStatus(s))
	}
	var assignments []Assignment
	var nextToken *string
	for {
		out, err := c.client.ListAssignmentsForHIT(ctx, &mturk.ListAssignmentsForHITInput{
			HITId:              aws.String(hitID),
			AssignmentStatuses: filter,
			MaxResults:         aws.Int32(100),
			NextToken:          nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list assignments for HIT %s: %w", hitID, err)
		}
		for _, a := range out.Assignments {
			assignments = append(assignments, convertAssignment(a))
		}
		if out.NextToken == nil || len(out.Assignments) == 0 {
			return assignments, nil
		}
		nextToken = out.NextToken
	}
}

func (c *AWSClient) GetAssignment(ctx context.Context, assignmentID string) (*Assignment, error) {
	out, err := c.client.GetAssignment(ctx, &mturk.GetAssignmentInput{
		AssignmentId: aws.String(assignmentID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment %s: %w", assignmentID, err)
	}
	if out.Assignment == nil {
		return nil, fmt.Errorf("assignment %s not found", assignmentID)
	}
	a := convertAssignment(*out.Assignment)
	return &a, nil
}

func (c *AWSClient) ApproveAssignment(ctx context.Context, assignmentID, feedback string, overrideRejection bool) error {
	in := &mturk.ApproveAssignmentInput{
		AssignmentId:      aws.String(assignmentID),
		OverrideRejection: aws.Bool(overrideRejection),
	}
	if feedback != "" {
		in.RequesterFeedback = aws.String(feedback)
	}
	if _, err := c.client.ApproveAssignment(ctx, in); err != nil {
		return fmt.Errorf("failed to approve assignment %s: %w", assignmentID, err)
	}
	return nil
}

func (c *AWSClient) RejectAssignment(ctx context.Context, assignmentID, feedback string) error {
	_, err := c.client.RejectAssignment(ctx, &mturk.RejectAssignmentInput{
		AssignmentId:      aws.String(assignmentID),
		RequesterFeedback: aws.String(feedback),
	})
	if err != nil {
		return fmt.Errorf("failed to reject assignment %s: %w", assignmentID, err)
	}
	return nil
}

func (c *AWSClient) CreateHIT(ctx context.Context, params HITParams) (string, error) {
	in := &mturk.CreateHITInput{
		Title:                       aws.String(params.Title),
		Description:                 aws.String(params.Description),
		Keywords:                    aws.String(params.Keywords),
		Question:                    aws.String(params.Question),
		Reward:                      aws.String(params.Reward),
		AssignmentDurationInSeconds: aws.Int64(int64(params.AssignmentDuration.Seconds())),
		LifetimeInSeconds:           aws.Int64(int64(params.Lifetime.Seconds())),
		AutoApprovalDelayInSeconds:  aws.Int64(int64(params.AutoApprovalDelay.Seconds())),
		MaxAssignments:              aws.Int32(params.MaxAssignments),
		RequesterAnnotation:         aws.String(params.Annotation),
		UniqueRequestToken:          aws.String(ulid.Make().String()),
	}
	for _, q := range params.Qualifications {
		in.QualificationRequirements = append(in.QualificationRequirements, convertQualification(q))
	}
	out, err := c.client.CreateHIT(ctx, in)
	if err != nil {
		return "", fmt.Errorf("failed to create HIT: %w", err)
	}
	if out.HIT == nil || out.HIT.HITId == nil {
		return "", errors.New("create HIT returned no HIT id")
	}
	return *out.HIT.HITId, nil
}

func (c *AWSClient) ExpireHIT(ctx context.Context, hitID string) error {
	// An expiration in the past removes the HIT from the marketplace without
	// touching assignments already submitted.
	_, err := c.client.UpdateExpirationForHIT(ctx, &mturk.UpdateExpirationForHITInput{
		HITId:    aws.String(hitID),
		ExpireAt: aws.Time(time.Unix(0, 0)),
	})
	if err != nil {
		return fmt.Errorf("failed to expire HIT %s: %w", hitID, err)
	}
	return nil
}

func (c *AWSClient) DeleteHIT(ctx context.Context, hitID string) error {
	_, err := c.client.DeleteHIT(ctx, &mturk.DeleteHITInput{
		HITId: aws.String(hitID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete HIT %s: %w", hitID, err)
	}
	return nil
}

func (c *AWSClient) FindQualificationType(ctx context.Context, query string) (string, error) {
	out, err := c.client.ListQualificationTypes(ctx, &mturk.ListQualificationTypesInput{
		Query:               aws.String(query),
		MustBeRequestable:   aws.Bool(false),
		MustBeOwnedByCaller: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list qualification types for %q: %w", query, err)
	}
	for _, q := range out.QualificationTypes {
		if aws.ToString(q.Name) == query {
			return aws.ToString(q.QualificationTypeId), nil
		}
	}
	return "", nil
}

func (c *AWSClient) CreateQualificationType(ctx context.Context, name, description string) (string, error) {
	out, err := c.client.CreateQualificationType(ctx, &mturk.CreateQualificationTypeInput{
		Name:                    aws.String(name),
		Description:             aws.String(description),
		QualificationTypeStatus: types.QualificationTypeStatusActive,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create qualification type %q: %w", name, err)
	}
	if out.QualificationType == nil || out.QualificationType.QualificationTypeId == nil {
		return "", errors.New("create qualification type returned no id")
	}
	return *out.QualificationType.QualificationTypeId, nil
}

func (c *AWSClient) AssignQualification(ctx context.Context, qualTypeID, workerID string, value int64) error {
	_, err := c.client.AssociateQualificationWithWorker(ctx, &mturk.AssociateQualificationWithWorkerInput{
		QualificationTypeId: aws.String(qualTypeID),
		WorkerId:            aws.String(workerID),
		IntegerValue:        aws.Int32(int32(value)),
		SendNotification:    aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("failed to assign qualification %s to worker %s: %w", qualTypeID, workerID, err)
	}
	return nil
}

func convertHIT(h types.HIT) HIT {
	return HIT{
		ID:         aws.ToString(h.HITId),
		Annotation: aws.ToString(h.RequesterAnnotation),
		Title:      aws.ToString(h.Title),
		CreatedAt:  aws.ToTime(h.CreationTime),
		Expiration: aws.ToTime(h.Expiration),
	}
}

func convertAssignment(a types.Assignment) Assignment {
	return Assignment{
		ID:            aws.ToString(a.AssignmentId),
		HITID:         aws.ToString(a.HITId),
		WorkerID:      aws.ToString(a.WorkerId),
		Status:        AssignmentStatus(a.AssignmentStatus),
		Answer:        a.Answer,
		SubmittedAt:   aws.ToTime(a.SubmitTime),
		AutoApproveAt: aws.ToTime(a.AutoApprovalTime),
	}
}

func convertQualification(q Qualification) types.QualificationRequirement {
	req := types.QualificationRequirement{
		QualificationTypeId: aws.String(q.TypeID),
		Comparator:          types.Comparator(q.Comparator),
	}
	for _, v := range q.IntValues {
		req.IntegerValues = append(req.IntegerValues, int32(v))
	}
	for _, country := range q.Countries {
		req.LocaleValues = append(req.LocaleValues, types.Locale{Country: aws.String(country)})
	}
	return req
}

// IsInvalidState reports whether the exchange refused an operation because
// the assignment or HIT is already in a terminal state. Re-approving an
// approved assignment fails this way; callers treat it as success when the
// local record agrees with the exchange.
func IsInvalidState(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.ErrorMessage())
	return strings.Contains(msg, "status of") || strings.Contains(msg, "already")
}
