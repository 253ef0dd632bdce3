// Package hitposter turns task configurations into posted HITs.
package hitposter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dukehal/segreview/internal/expgroup"
	"github.com/dukehal/segreview/internal/mturk"
	"github.com/dukehal/segreview/internal/quals"
	"github.com/dukehal/segreview/internal/taskconfig"
)

const (
	defaultReward = "0.06"

	assignmentDuration = time.Hour
	// Shortened duration for groups with a time limit: the worker must
	// finish in one sitting.
	limitedDuration   = 3 * time.Minute
	hitLifetime       = 28 * 24 * time.Hour
	autoApprovalDelay = 7 * 24 * time.Hour

	hitKeywords = "image, annotation, segmentation, drawing"
)

const questionTemplate = `<HTMLQuestion xmlns="http://mechanicalturk.amazonaws.com/AWSMechanicalTurkDataSchemas/2011-11-11/HTMLQuestion.xsd">
<HTMLContent><![CDATA[
<!DOCTYPE html>
<html>
<head><meta http-equiv="Content-Type" content="text/html; charset=UTF-8"/></head>
<body>
<iframe src="%s" width="100%%" height="800" frameborder="0" scrolling="auto"></iframe>
</body>
</html>
]]></HTMLContent>
<FrameHeight>0</FrameHeight>
</HTMLQuestion>`

// Poster posts one task to the exchange and returns the external task id.
type Poster interface {
	Post(ctx context.Context, cfg taskconfig.Config, group expgroup.Group) (string, error)
}

// MTurkPoster implements Poster by creating HITs whose question embeds the
// annotation UI in an iframe.
type MTurkPoster struct {
	client  mturk.Client
	quals   *quals.Provider
	taskURL string
}

func NewMTurkPoster(client mturk.Client, quals *quals.Provider, taskURL string) *MTurkPoster {
	return &MTurkPoster{client: client, quals: quals, taskURL: taskURL}
}

func (p *MTurkPoster) Post(ctx context.Context, cfg taskconfig.Config, group expgroup.Group) (string, error) {
	reqs, err := p.requirements(ctx, group)
	if err != nil {
		return "", err
	}
	duration := assignmentDuration
	if group.TimeLimit {
		duration = limitedDuration
	}
	params := mturk.HITParams{
		Title:              title(cfg.AnnotationMode),
		Description:        description(cfg),
		Keywords:           hitKeywords,
		Question:           p.question(cfg),
		Reward:             reward(group),
		AssignmentDuration: duration,
		Lifetime:           hitLifetime,
		AutoApprovalDelay:  autoApprovalDelay,
		MaxAssignments:     1,
		Annotation:         group.ID,
		Qualifications:     reqs,
	}
	hitID, err := p.client.CreateHIT(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to post task for group %s: %w", group.ID, err)
	}
	return hitID, nil
}

// requirements picks the qualification set by group kind. Training groups
// must stay open to unqualified workers or nobody could ever earn the
// qualification.
func (p *MTurkPoster) requirements(ctx context.Context, group expgroup.Group) ([]mturk.Qualification, error) {
	if expgroup.IsTraining(group.ID) {
		return p.quals.TrainingRequirements(), nil
	}
	return p.quals.Requirements(ctx)
}

func (p *MTurkPoster) question(cfg taskconfig.Config) string {
	v := url.Values{}
	v.Set("image_url", cfg.ImageURL)
	v.Set("classes", cfg.Classes)
	v.Set("annotation_mode", cfg.AnnotationMode)
	v.Set("exp_group", cfg.ExpGroup)
	if cfg.PreAnnotations != "" {
		v.Set("pre_annotations", cfg.PreAnnotations)
	}
	return fmt.Sprintf(questionTemplate, p.taskURL+"?"+v.Encode())
}

func title(mode string) string {
	switch mode {
	case "polygon":
		return "Draw polygons around objects in an image"
	case "paint":
		return "Paint over objects in an image"
	default:
		return "Annotate objects in an image"
	}
}

func description(cfg taskconfig.Config) string {
	classes := strings.ReplaceAll(cfg.Classes, ",", ", ")
	return fmt.Sprintf("Annotate every %s in the image using the in-page drawing tool. Instructions are shown with the task.", classes)
}

func reward(group expgroup.Group) string {
	if group.Reward > 0 {
		return fmt.Sprintf("%.2f", group.Reward)
	}
	return defaultReward
}
