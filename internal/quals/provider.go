// Package quals manages the worker qualifications gating who may work on
// posted tasks. The segmentation qualification is invite-only: workers earn
// it through training tasks and the reviewer grants it with a score.
package quals

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukehal/segreview/internal/mturk"
)

// System qualification type ids, shared across all requester accounts.
const (
	localeQualTypeID       = "00000000000000000071"
	approvalRateQualTypeID = "000000000000000000L0"
)

const (
	segQualName        = "Instance segmentation annotation"
	segQualDescription = "Granted to workers whose training submissions meet the segmentation accuracy bar. Required for paid segmentation tasks."

	// Workers below this lifetime approval percentage never see the tasks.
	minApprovalRate = 90
)

// Provider resolves and grants the qualifications used by posted tasks.
type Provider struct {
	client mturk.Client

	mu        sync.Mutex
	segQualID string
}

func NewProvider(client mturk.Client) *Provider {
	return &Provider{client: client}
}

// SegmentationQualID returns the qualification type id for the segmentation
// qualification, creating the type on first use. The id is cached for the
// lifetime of the provider; qualification types are never deleted.
func (p *Provider) SegmentationQualID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.segQualID != "" {
		return p.segQualID, nil
	}
	id, err := p.client.FindQualificationType(ctx, segQualName)
	if err != nil {
		return "", err
	}
	if id == "" {
		id, err = p.client.CreateQualificationType(ctx, segQualName, segQualDescription)
		if err != nil {
			return "", err
		}
	}
	p.segQualID = id
	return id, nil
}

// Requirements returns the qualification requirements attached to every paid
// task: US locale, a minimum lifetime approval rate and the segmentation
// qualification.
func (p *Provider) Requirements(ctx context.Context) ([]mturk.Qualification, error) {
	segID, err := p.SegmentationQualID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve segmentation qualification: %w", err)
	}
	return []mturk.Qualification{
		{
			TypeID:     localeQualTypeID,
			Comparator: mturk.ComparatorIn,
			Countries:  []string{"US"},
		},
		{
			TypeID:     approvalRateQualTypeID,
			Comparator: mturk.ComparatorGreaterThan,
			IntValues:  []int64{minApprovalRate},
		},
		{
			TypeID:     segID,
			Comparator: mturk.ComparatorExists,
		},
	}, nil
}

// TrainingRequirements returns the requirements for training tasks, which
// are open to workers who do not yet hold the segmentation qualification.
func (p *Provider) TrainingRequirements() []mturk.Qualification {
	return []mturk.Qualification{
		{
			TypeID:     localeQualTypeID,
			Comparator: mturk.ComparatorIn,
			Countries:  []string{"US"},
		},
		{
			TypeID:     approvalRateQualTypeID,
			Comparator: mturk.ComparatorGreaterThan,
			IntValues:  []int64{minApprovalRate},
		},
	}
}

// GrantSegmentationScore assigns the segmentation qualification to a worker
// with the given score. Granting again overwrites the previous score.
func (p *Provider) GrantSegmentationScore(ctx context.Context, workerID string, score int64) error {
	segID, err := p.SegmentationQualID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve segmentation qualification: %w", err)
	}
	return p.client.AssignQualification(ctx, segID, workerID, score)
}
